package rmap

import "spacewire-comms/x/fmtx"

// TargetNode describes a named RMAP target (grounded on rmap_node.h):
// the SpaceWire path to reach it, its logical address, the destination key
// expected on commands, and the reply-address path the target should use to
// route the reply back to us.
type TargetNode struct {
	Name              string
	TargetSpWAddress  []byte // path bytes to the target, <= MaxPhysicalRouterOutputPorts
	TargetLogicalAddr byte
	Key               byte
	ReplyAddress      []byte // <= MaxAddressLength, consumed in 4-byte groups
}

// ReplyAddressLengthUnits returns the instruction field's 2-bit
// reply-address-length value (length in 4-byte units).
func (n TargetNode) ReplyAddressLengthUnits() byte {
	units := (len(n.ReplyAddress) + 3) / 4
	return byte(units)
}

// TargetList is a small linear registry of TargetNode, keyed by name or
// logical address, matching the initiator's name-based write/read variant.
type TargetList struct {
	nodes []TargetNode
}

// NewTargetList creates an empty target registry.
func NewTargetList() *TargetList {
	return &TargetList{}
}

// Add registers a target node. It returns an error if the name is already
// registered or exceeds MaxNodeNameLength.
func (l *TargetList) Add(n TargetNode) error {
	if len(n.Name) > MaxNodeNameLength {
		return fmtx.Errorf("rmap: target node name %q exceeds %d bytes", n.Name, MaxNodeNameLength)
	}
	if _, ok := l.ByName(n.Name); ok {
		return fmtx.Errorf("rmap: target node %q already registered", n.Name)
	}
	l.nodes = append(l.nodes, n)
	return nil
}

// ByName looks up a target node by its configured name.
func (l *TargetList) ByName(name string) (TargetNode, bool) {
	for _, n := range l.nodes {
		if n.Name == name {
			return n, true
		}
	}
	return TargetNode{}, false
}

// ByLogicalAddress looks up the first target node with the given logical
// address.
func (l *TargetList) ByLogicalAddress(addr byte) (TargetNode, bool) {
	for _, n := range l.nodes {
		if n.TargetLogicalAddr == addr {
			return n, true
		}
	}
	return TargetNode{}, false
}
