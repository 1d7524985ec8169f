package buffer

import "testing"

func TestAllocateExhaustsPool(t *testing.T) {
	p := NewPool(2, 16)
	a, ok := p.Allocate()
	if !ok {
		t.Fatal("expected allocation to succeed")
	}
	b, ok := p.Allocate()
	if !ok {
		t.Fatal("expected second allocation to succeed")
	}
	if _, ok := p.Allocate(); ok {
		t.Fatal("expected pool to be exhausted")
	}
	a.Release()
	if p.NumFree() != 1 {
		t.Fatalf("expected 1 free element, got %d", p.NumFree())
	}
	b.Release()
	if p.NumFree() != 2 {
		t.Fatalf("expected 2 free elements, got %d", p.NumFree())
	}
}

func TestAllocateIsZeroed(t *testing.T) {
	p := NewPool(1, 4)
	a, _ := p.Allocate()
	copy(a.Bytes(), []byte{1, 2, 3, 4})
	a.Release()

	b, ok := p.Allocate()
	if !ok {
		t.Fatal("expected reallocation to succeed")
	}
	for i, v := range b.Bytes() {
		if v != 0 {
			t.Fatalf("byte %d not zeroed: %d", i, v)
		}
	}
}

func TestChildKeepsParentAlive(t *testing.T) {
	p := NewPool(1, 8)
	parent, _ := p.Allocate()
	child, ok := parent.GetChild(42, 2, 4)
	if !ok {
		t.Fatal("expected GetChild to succeed")
	}
	parent.Release()
	if p.NumFree() != 0 {
		t.Fatal("parent must not return to pool while child is live")
	}
	if child.Tag() != 42 || child.Length() != 4 {
		t.Fatalf("unexpected child metadata: tag=%d length=%d", child.Tag(), child.Length())
	}
	child.Release()
	if p.NumFree() != 1 {
		t.Fatal("parent must return to pool once last child released")
	}
}

func TestGetChildRejectsOutOfRange(t *testing.T) {
	p := NewPool(1, 8)
	parent, _ := p.Allocate()
	defer parent.Release()
	if _, ok := parent.GetChild(0, 4, 8); ok {
		t.Fatal("expected out-of-range child request to fail")
	}
}

func TestGrandchildSharesRootParent(t *testing.T) {
	p := NewPool(1, 16)
	parent, _ := p.Allocate()
	child, _ := parent.GetChild(1, 0, 10)
	grandchild, ok := child.GetChild(2, 2, 4)
	if !ok {
		t.Fatal("expected grandchild creation to succeed")
	}
	parent.Release()
	child.Release()
	if p.NumFree() != 0 {
		t.Fatal("grandchild must keep root parent alive")
	}
	grandchild.Release()
	if p.NumFree() != 1 {
		t.Fatal("parent must return to pool once grandchild released")
	}
}

func TestClonedPointerDelaysRelease(t *testing.T) {
	p := NewPool(1, 8)
	a, _ := p.Allocate()
	b := a.Clone()
	a.Release()
	if p.NumFree() != 0 {
		t.Fatal("element must stay allocated while clone is live")
	}
	b.Release()
	if p.NumFree() != 1 {
		t.Fatal("element must return to pool once all clones released")
	}
}
