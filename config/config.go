// Package config decodes the JSON document describing a device's RMAP
// target nodes, dispatcher listeners and software bus channels, and builds
// the corresponding live objects from it. It follows the same
// tinyjson.Raw-then-type-assert pattern the device firmware's own config
// service uses for its embedded per-device configs.
package config

import (
	"errors"

	"github.com/andreyvit/tinyjson"

	"spacewire-comms/buffer"
	"spacewire-comms/dispatcher"
	"spacewire-comms/queue"
	"spacewire-comms/rmap"
	"spacewire-comms/swb"
	"spacewire-comms/x/fmtx"
)

// TargetSpec describes one RMAP target node in the document.
type TargetSpec struct {
	Name         string
	Path         []byte
	TargetLA     byte
	Key          byte
	ReplyAddress []byte
}

// ListenerSpec describes one dispatcher listener in the document.
type ListenerSpec struct {
	Name        string
	ProtocolID  uint32
	PoolSize    int
	ElemSize    int
	QueueDepth  int
	DropPartial bool
	Default     bool
}

// SubscriptionSpec is one (value, mask) pair of a channel's subscription
// filter.
type SubscriptionSpec struct {
	Value uint32
	Mask  uint32
}

// FilterSpec describes a channel's filter. Kind is one of "none",
// "subscription" or "range"; the other fields are interpreted accordingly.
type FilterSpec struct {
	Kind string
	Subs []SubscriptionSpec
	Min  uint32
	Max  uint32
}

// ChannelSpec describes one software bus channel in the document.
type ChannelSpec struct {
	Name     string
	Capacity int
	Filter   FilterSpec
	Default  bool
}

// Document is the fully decoded configuration: every target node,
// dispatcher listener and bus channel a device's config file describes.
type Document struct {
	Targets   []TargetSpec
	Listeners []ListenerSpec
	Channels  []ChannelSpec
}

// Load parses raw as a JSON object with optional "targets", "listeners" and
// "channels" arrays and returns the decoded Document. It follows the
// firmware config service's tinyjson.Raw / Value() / EnsureEOF() pattern
// rather than encoding/json, matching the ambient decoding style used
// throughout the embedded config path.
func Load(raw []byte) (Document, error) {
	r := tinyjson.Raw(raw)
	val := r.Value()
	r.EnsureEOF()

	top, ok := val.(map[string]any)
	if !ok {
		return Document{}, errors.New("config: document is not a JSON object")
	}

	var doc Document
	var err error

	if v, present := top["targets"]; present {
		if doc.Targets, err = decodeTargets(v); err != nil {
			return Document{}, err
		}
	}
	if v, present := top["listeners"]; present {
		if doc.Listeners, err = decodeListeners(v); err != nil {
			return Document{}, err
		}
	}
	if v, present := top["channels"]; present {
		if doc.Channels, err = decodeChannels(v); err != nil {
			return Document{}, err
		}
	}
	return doc, nil
}

func asArray(v any, field string) ([]any, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, fmtx.Errorf("config: %q is not a JSON array", field)
	}
	return arr, nil
}

func asObject(v any, field string) (map[string]any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmtx.Errorf("config: %q is not a JSON object", field)
	}
	return m, nil
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func num(m map[string]any, key string) uint32 {
	f, _ := m[key].(float64)
	return uint32(f)
}

func boolean(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func bytesField(m map[string]any, key string) []byte {
	arr, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]byte, 0, len(arr))
	for _, e := range arr {
		f, _ := e.(float64)
		out = append(out, byte(f))
	}
	return out
}

func decodeTargets(v any) ([]TargetSpec, error) {
	arr, err := asArray(v, "targets")
	if err != nil {
		return nil, err
	}
	out := make([]TargetSpec, 0, len(arr))
	for i, e := range arr {
		m, err := asObject(e, fmtx.Sprintf("targets[%d]", i))
		if err != nil {
			return nil, err
		}
		out = append(out, TargetSpec{
			Name:         str(m, "name"),
			Path:         bytesField(m, "path"),
			TargetLA:     byte(num(m, "target_la")),
			Key:          byte(num(m, "key")),
			ReplyAddress: bytesField(m, "reply_address"),
		})
	}
	return out, nil
}

func decodeListeners(v any) ([]ListenerSpec, error) {
	arr, err := asArray(v, "listeners")
	if err != nil {
		return nil, err
	}
	out := make([]ListenerSpec, 0, len(arr))
	for i, e := range arr {
		m, err := asObject(e, fmtx.Sprintf("listeners[%d]", i))
		if err != nil {
			return nil, err
		}
		out = append(out, ListenerSpec{
			Name:        str(m, "name"),
			ProtocolID:  num(m, "protocol_id"),
			PoolSize:    int(num(m, "pool_size")),
			ElemSize:    int(num(m, "elem_size")),
			QueueDepth:  int(num(m, "queue_depth")),
			DropPartial: boolean(m, "drop_partial"),
			Default:     boolean(m, "default"),
		})
	}
	return out, nil
}

func decodeFilter(v any) (FilterSpec, error) {
	if v == nil {
		return FilterSpec{Kind: "none"}, nil
	}
	m, err := asObject(v, "filter")
	if err != nil {
		return FilterSpec{}, err
	}
	kind := str(m, "kind")
	if kind == "" {
		kind = "none"
	}
	f := FilterSpec{Kind: kind, Min: num(m, "min"), Max: num(m, "max")}
	if subsRaw, ok := m["subs"].([]any); ok {
		for _, s := range subsRaw {
			sm, ok := s.(map[string]any)
			if !ok {
				return FilterSpec{}, errors.New("config: filter subscription is not a JSON object")
			}
			f.Subs = append(f.Subs, SubscriptionSpec{Value: num(sm, "value"), Mask: num(sm, "mask")})
		}
	}
	return f, nil
}

func decodeChannels(v any) ([]ChannelSpec, error) {
	arr, err := asArray(v, "channels")
	if err != nil {
		return nil, err
	}
	out := make([]ChannelSpec, 0, len(arr))
	for i, e := range arr {
		m, err := asObject(e, fmtx.Sprintf("channels[%d]", i))
		if err != nil {
			return nil, err
		}
		filter, err := decodeFilter(m["filter"])
		if err != nil {
			return nil, err
		}
		out = append(out, ChannelSpec{
			Name:     str(m, "name"),
			Capacity: int(num(m, "capacity")),
			Filter:   filter,
			Default:  boolean(m, "default"),
		})
	}
	return out, nil
}

// BuildTargetList constructs an rmap.TargetList from the document's target
// specs.
func (d Document) BuildTargetList() (*rmap.TargetList, error) {
	list := rmap.NewTargetList()
	for _, t := range d.Targets {
		node := rmap.TargetNode{
			Name:              t.Name,
			TargetSpWAddress:  t.Path,
			TargetLogicalAddr: t.TargetLA,
			Key:               t.Key,
			ReplyAddress:      t.ReplyAddress,
		}
		if err := list.Add(node); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// BuildDispatcher constructs a dispatcher.Dispatcher at the given protocol
// ID offset/width and main buffer capacity, and registers one
// dispatcher.Listener per listener spec (named, so callers can later look
// listeners up by name for metrics or consumption).
//
// maxListeners is the dispatcher's registration ceiling; pass at least
// len(d.Listeners) minus however many specs set Default.
func (d Document) BuildDispatcher(offset, idWidth, maxListeners, mainBufferCap int) (*dispatcher.Dispatcher, map[string]*dispatcher.Listener, error) {
	disp := dispatcher.New(offset, idWidth, maxListeners, mainBufferCap)
	named := make(map[string]*dispatcher.Listener, len(d.Listeners))

	for _, spec := range d.Listeners {
		l := &dispatcher.Listener{
			ProtocolID:  spec.ProtocolID,
			Pool:        buffer.NewPool(spec.PoolSize, spec.ElemSize),
			Queue:       queue.NewQueue(spec.QueueDepth),
			DropPartial: spec.DropPartial,
		}
		if spec.Default {
			if !disp.SetDefaultQueue(l) {
				return nil, nil, fmtx.Errorf("config: duplicate default listener %q", spec.Name)
			}
		} else if !disp.AddQueue(l) {
			return nil, nil, fmtx.Errorf("config: listener %q exceeds dispatcher capacity %d", spec.Name, maxListeners)
		}
		named[spec.Name] = l
	}
	return disp, named, nil
}

func buildFilter(spec FilterSpec) (swb.Filter, error) {
	switch spec.Kind {
	case "", "none":
		return swb.FilterNone{}, nil
	case "subscription":
		subs := make([]swb.Subscription, 0, len(spec.Subs))
		for _, s := range spec.Subs {
			subs = append(subs, swb.Subscription{Value: swb.ID(s.Value), Mask: swb.ID(s.Mask)})
		}
		return swb.NewSubscriptionFilter(subs...), nil
	case "range":
		return swb.RangeFilter{Min: swb.ID(spec.Min), Max: swb.ID(spec.Max)}, nil
	default:
		return nil, fmtx.Errorf("config: unknown filter kind %q", spec.Kind)
	}
}

// BuildDistributor constructs a swb.Distributor over pool/maxChannels/
// inputCapacity and registers one swb.Channel per channel spec.
func (d Document) BuildDistributor(pool *buffer.Pool, maxChannels, inputCapacity int) (*swb.Distributor, map[string]*swb.Channel, error) {
	dist := swb.NewDistributor(pool, maxChannels, inputCapacity)
	named := make(map[string]*swb.Channel, len(d.Channels))

	for _, spec := range d.Channels {
		filter, err := buildFilter(spec.Filter)
		if err != nil {
			return nil, nil, err
		}
		ch := swb.NewChannel(filter, spec.Capacity)
		var result swb.OperationResult
		if spec.Default {
			result = dist.SetDefaultChannel(spec.Name, ch)
		} else {
			result = dist.AddChannel(spec.Name, ch)
		}
		if result != swb.ResultSuccess {
			return nil, nil, fmtx.Errorf("config: channel %q rejected: %v", spec.Name, result)
		}
		named[spec.Name] = ch
	}
	return dist, named, nil
}
