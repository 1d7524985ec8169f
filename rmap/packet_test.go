package rmap

import "testing"

func TestEncodeWriteCommandThenDecodeCorrespondingReply(t *testing.T) {
	target := TargetNode{
		TargetLogicalAddr: 0xAB,
		Key:               0x20,
		ReplyAddress:      nil,
	}
	cmd := Command{
		Target:      target,
		Options:     Options{Increment: true, Verify: true, Reply: true},
		InitiatorLA: 0xFE,
		TransID:     7,
		ExtAddr:     0x00,
		MemAddr:     0x00010000,
		Data:        []byte{0xDE, 0xAD, 0xBE, 0xEF},
	}
	buf := make([]byte, BufferSize)
	n, err := Encode(buf, cmd, true)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if n == 0 {
		t.Fatal("expected non-zero encoded length")
	}

	replyBuf := make([]byte, BufferSize)
	rn, err := EncodeReply(replyBuf, ReplyFields{
		InitiatorLA: cmd.InitiatorLA,
		IsWrite:     true,
		Instruction: ReplyInstruction(true),
		Status:      StatusSuccess,
		TargetLA:    target.TargetLogicalAddr,
		TransID:     cmd.TransID,
	})
	if err != nil {
		t.Fatalf("encode reply: %v", err)
	}

	reply, res := Decode(replyBuf[:rn], cmd.InitiatorLA)
	if res != ExtractionSuccess {
		t.Fatalf("expected success, got %v", res)
	}
	if reply.TransID != cmd.TransID {
		t.Fatalf("transaction id mismatch: got %d want %d", reply.TransID, cmd.TransID)
	}
	if reply.Status != StatusSuccess {
		t.Fatalf("expected success status, got %v", reply.Status)
	}
}

func TestDecodeReadReplyRoundTrip(t *testing.T) {
	data := make([]byte, 16)
	for i := range data {
		data[i] = byte(i)
	}
	buf := make([]byte, BufferSize)
	n, err := EncodeReply(buf, ReplyFields{
		InitiatorLA: 0xFE,
		IsWrite:     false,
		Instruction: ReplyInstruction(false),
		Status:      StatusSuccess,
		TargetLA:    0xAB,
		TransID:     42,
		Data:        data,
	})
	if err != nil {
		t.Fatalf("encode reply: %v", err)
	}

	reply, res := Decode(buf[:n], 0xFE)
	if res != ExtractionSuccess {
		t.Fatalf("expected success, got %v", res)
	}
	if reply.DataLength != 16 {
		t.Fatalf("expected data length 16, got %d", reply.DataLength)
	}
	for i, b := range reply.Data {
		if b != byte(i) {
			t.Fatalf("data mismatch at %d: got %d", i, b)
		}
	}
}

func TestDecodeRejectsCorruptDataCRC(t *testing.T) {
	data := make([]byte, 16)
	for i := range data {
		data[i] = byte(i)
	}
	buf := make([]byte, BufferSize)
	n, _ := EncodeReply(buf, ReplyFields{
		InitiatorLA: 0xFE,
		IsWrite:     false,
		Instruction: ReplyInstruction(false),
		Status:      StatusSuccess,
		TargetLA:    0xAB,
		TransID:     42,
		Data:        data,
	})
	buf[n-2] ^= 0xFF // flip the last payload byte, leaving the stored data CRC stale

	_, res := Decode(buf[:n], 0xFE)
	if res != ExtractionCrcError {
		t.Fatalf("expected crcError, got %v", res)
	}
}

func TestDecodeRejectsWrongInitiatorAddress(t *testing.T) {
	buf := make([]byte, BufferSize)
	n, _ := EncodeReply(buf, ReplyFields{
		InitiatorLA: 0xFE,
		IsWrite:     true,
		Instruction: ReplyInstruction(true),
		Status:      StatusSuccess,
		TargetLA:    0xAB,
		TransID:     1,
	})
	_, res := Decode(buf[:n], 0xAA)
	if res != ExtractionIncorrectAddress {
		t.Fatalf("expected incorrectAddress, got %v", res)
	}
}

func TestDecodeRejectsNonReplyPacketType(t *testing.T) {
	target := TargetNode{TargetLogicalAddr: 0xAB, Key: 0x20}
	cmd := Command{
		Target:      target,
		Options:     Options{Reply: true},
		InitiatorLA: 0xFE,
		TransID:     1,
		MemAddr:     0x1000,
		Data:        []byte{1, 2, 3, 4},
	}
	buf := make([]byte, BufferSize)
	n, err := Encode(buf, cmd, true)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// The encoded bytes are a command, not a reply; decoding them as a
	// reply must fail since the packet type bits say "command". Address
	// expectations are aligned with the command's own layout (targetLA
	// first) so only the packet-type check is exercised.
	_, res := Decode(buf[:n], target.TargetLogicalAddr)
	if res != ExtractionInvalid {
		t.Fatalf("expected invalid, got %v", res)
	}
}

func TestEncodeRejectsBufferTooSmall(t *testing.T) {
	target := TargetNode{TargetLogicalAddr: 0xAB, Key: 0x20}
	cmd := Command{
		Target:      target,
		Options:     Options{Reply: true},
		InitiatorLA: 0xFE,
		TransID:     1,
		MemAddr:     0x1000,
		Data:        make([]byte, 32),
	}
	tiny := make([]byte, 4)
	if _, err := Encode(tiny, cmd, true); err != ErrBufferTooSmall {
		t.Fatalf("expected ErrBufferTooSmall, got %v", err)
	}
}

func TestEncodeSkipsPathBytesInCRCCoverage(t *testing.T) {
	target := TargetNode{
		TargetSpWAddress:  []byte{1, 2, 3},
		TargetLogicalAddr: 0xAB,
		Key:               0x20,
	}
	withPath := Command{
		Target:      target,
		Options:     Options{Reply: true},
		InitiatorLA: 0xFE,
		TransID:     1,
		MemAddr:     0x1000,
		Data:        []byte{1, 2, 3, 4},
	}
	withoutPath := withPath
	withoutPath.Target = TargetNode{TargetLogicalAddr: 0xAB, Key: 0x20}

	bufA := make([]byte, BufferSize)
	nA, _ := Encode(bufA, withPath, true)
	bufB := make([]byte, BufferSize)
	nB, _ := Encode(bufB, withoutPath, true)

	// Path bytes precede the header, so the remaining encoded bytes
	// (header + CRC + payload) must be identical either way.
	pathLen := len(target.TargetSpWAddress)
	if nA-pathLen != nB {
		t.Fatalf("unexpected length difference: %d vs %d", nA-pathLen, nB)
	}
	for i := 0; i < nB; i++ {
		if bufA[pathLen+i] != bufB[i] {
			t.Fatalf("byte %d differs: %x vs %x", i, bufA[pathLen+i], bufB[i])
		}
	}
}
