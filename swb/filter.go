package swb

import "spacewire-comms/x/mathx"

// Filter accepts or rejects a message for a particular channel.
type Filter interface {
	Accept(id ID, data []byte) bool
}

// FilterNone accepts every message.
type FilterNone struct{}

func (FilterNone) Accept(ID, []byte) bool { return true }

// Subscription is one (value, mask) pair in a SubscriptionFilter.
type Subscription struct {
	Value ID
	Mask  ID
}

// SubscriptionFilter accepts iff (id & mask) == (value & mask) for at least
// one registered subscription.
type SubscriptionFilter struct {
	subs []Subscription
}

// NewSubscriptionFilter creates a filter with the given subscriptions.
func NewSubscriptionFilter(subs ...Subscription) *SubscriptionFilter {
	return &SubscriptionFilter{subs: append([]Subscription(nil), subs...)}
}

// Add registers another (value, mask) subscription.
func (f *SubscriptionFilter) Add(value, mask ID) {
	f.subs = append(f.subs, Subscription{Value: value, Mask: mask})
}

func (f *SubscriptionFilter) Accept(id ID, _ []byte) bool {
	for _, s := range f.subs {
		if (id & s.Mask) == (s.Value & s.Mask) {
			return true
		}
	}
	return false
}

// RangeFilter accepts iff Min <= id <= Max.
type RangeFilter struct {
	Min, Max ID
}

func (f RangeFilter) Accept(id ID, _ []byte) bool {
	return mathx.Between(id, f.Min, f.Max)
}
