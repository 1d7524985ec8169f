// Package metrics exposes protocol dispatcher listener counters, software
// bus channel/distributor counters, and rmap.Initiator's receive-thread
// error counters as Prometheus metrics, pulled at scrape time directly from
// the atomic fields those packages already maintain — the same
// Describe/Collect-at-scrape-time shape as a typical client_golang custom
// collector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"spacewire-comms/dispatcher"
	"spacewire-comms/rmap"
	"spacewire-comms/swb"
)

// NamedListener pairs a dispatcher.Listener with the label it should carry
// in exported metrics.
type NamedListener struct {
	Name string
	L    *dispatcher.Listener
}

var (
	listenerDroppedDesc = prometheus.NewDesc(
		"spacewire_dispatcher_listener_dropped_total",
		"Packets dropped for this listener (queue full or allocation failure).",
		[]string{"listener"}, nil)
	listenerPartialDesc = prometheus.NewDesc(
		"spacewire_dispatcher_listener_partial_total",
		"Packets truncated to pool element size for this listener.",
		[]string{"listener"}, nil)
	listenerOverflowDesc = prometheus.NewDesc(
		"spacewire_dispatcher_listener_overflowed_bytes_total",
		"Bytes dropped by truncation for this listener.",
		[]string{"listener"}, nil)
	listenerRetrievedDesc = prometheus.NewDesc(
		"spacewire_dispatcher_listener_retrieved_total",
		"Packets successfully delivered to this listener's queue.",
		[]string{"listener"}, nil)

	dispatcherPartialDesc   = prometheus.NewDesc("spacewire_dispatcher_partial_total", "Packets truncated before extraction (over main-buffer size).", nil, nil)
	dispatcherOverflowDesc  = prometheus.NewDesc("spacewire_dispatcher_overflowed_bytes_total", "Bytes dropped by dispatcher-level truncation.", nil, nil)
	dispatcherUnmatchedDesc = prometheus.NewDesc("spacewire_dispatcher_unmatched_total", "Packets delivered to no listener, including the default.", nil, nil)
	dispatcherDroppedDesc   = prometheus.NewDesc("spacewire_dispatcher_dropped_total", "Packets accepted by no listener at all, including the default, or too short to carry a protocol ID.", nil, nil)

	rmapDiscardedDesc  = prometheus.NewDesc("spacewire_rmap_discarded_replies_total", "Valid RMAP replies that matched no in-flight transaction.", nil, nil)
	rmapNonRmapDesc    = prometheus.NewDesc("spacewire_rmap_non_rmap_packets_total", "Packets on the RMAP listener queue that failed address/protocol checks.", nil, nil)
	rmapErroneousDesc  = prometheus.NewDesc("spacewire_rmap_erroneous_replies_total", "Replies rejected for a CRC mismatch.", nil, nil)
	rmapStoreErrorDesc = prometheus.NewDesc("spacewire_rmap_store_errors_total", "Errors recording a resolved reply onto its transaction slot.", nil, nil)

	busChannelIncomingDesc  = prometheus.NewDesc("spacewire_bus_channel_incoming_total", "Messages offered to this channel by the distributor.", []string{"channel"}, nil)
	busChannelAppendedDesc  = prometheus.NewDesc("spacewire_bus_channel_appended_total", "Messages accepted onto this channel's deque.", []string{"channel"}, nil)
	busChannelFailedDesc    = prometheus.NewDesc("spacewire_bus_channel_failed_total", "Messages rejected by this channel's filter or dropped at capacity.", []string{"channel"}, nil)
	busChannelRetrievedDesc = prometheus.NewDesc("spacewire_bus_channel_retrieved_total", "Messages consumed off this channel.", []string{"channel"}, nil)

	busIncomingDesc  = prometheus.NewDesc("spacewire_bus_incoming_total", "Messages pulled off the distributor's input queue.", nil, nil)
	busForwardedDesc = prometheus.NewDesc("spacewire_bus_forwarded_total", "Messages delivered to at least one regular channel.", nil, nil)
	busDefaultedDesc = prometheus.NewDesc("spacewire_bus_defaulted_total", "Messages delivered only to the default channel.", nil, nil)
)

// Collector implements prometheus.Collector over an RMAP initiator, a
// protocol dispatcher (with its named listeners) and a software bus
// distributor (with its named channels). Any of the three may be nil,
// in which case that section's metrics are simply not emitted.
type Collector struct {
	initiator  *rmap.Initiator
	dispatcher *dispatcher.Dispatcher
	listeners  []NamedListener

	distributor *swb.Distributor
}

// NewCollector builds a collector over the given components. Pass nil for
// any component not present in this process.
func NewCollector(initiator *rmap.Initiator, disp *dispatcher.Dispatcher, listeners []NamedListener, distributor *swb.Distributor) *Collector {
	return &Collector{initiator: initiator, dispatcher: disp, listeners: listeners, distributor: distributor}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- listenerDroppedDesc
	ch <- listenerPartialDesc
	ch <- listenerOverflowDesc
	ch <- listenerRetrievedDesc
	ch <- dispatcherPartialDesc
	ch <- dispatcherOverflowDesc
	ch <- dispatcherUnmatchedDesc
	ch <- dispatcherDroppedDesc
	ch <- rmapDiscardedDesc
	ch <- rmapNonRmapDesc
	ch <- rmapErroneousDesc
	ch <- rmapStoreErrorDesc
	ch <- busChannelIncomingDesc
	ch <- busChannelAppendedDesc
	ch <- busChannelFailedDesc
	ch <- busChannelRetrievedDesc
	ch <- busIncomingDesc
	ch <- busForwardedDesc
	ch <- busDefaultedDesc
}

// Collect implements prometheus.Collector, reading every counter fresh from
// the live atomic fields at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, nl := range c.listeners {
		ch <- prometheus.MustNewConstMetric(listenerDroppedDesc, prometheus.CounterValue, float64(nl.L.Counters.Dropped.Load()), nl.Name)
		ch <- prometheus.MustNewConstMetric(listenerPartialDesc, prometheus.CounterValue, float64(nl.L.Counters.Partial.Load()), nl.Name)
		ch <- prometheus.MustNewConstMetric(listenerOverflowDesc, prometheus.CounterValue, float64(nl.L.Counters.OverflowedBytes.Load()), nl.Name)
		ch <- prometheus.MustNewConstMetric(listenerRetrievedDesc, prometheus.CounterValue, float64(nl.L.Counters.Retrieved.Load()), nl.Name)
	}

	if c.dispatcher != nil {
		g := &c.dispatcher.Global
		ch <- prometheus.MustNewConstMetric(dispatcherPartialDesc, prometheus.CounterValue, float64(g.Partial.Load()))
		ch <- prometheus.MustNewConstMetric(dispatcherOverflowDesc, prometheus.CounterValue, float64(g.OverflowedBytes.Load()))
		ch <- prometheus.MustNewConstMetric(dispatcherUnmatchedDesc, prometheus.CounterValue, float64(g.Unmatched.Load()))
		ch <- prometheus.MustNewConstMetric(dispatcherDroppedDesc, prometheus.CounterValue, float64(g.Dropped.Load()))
	}

	if c.initiator != nil {
		e := &c.initiator.Errors
		ch <- prometheus.MustNewConstMetric(rmapDiscardedDesc, prometheus.CounterValue, float64(e.DiscardedReceivedPackets.Load()))
		ch <- prometheus.MustNewConstMetric(rmapNonRmapDesc, prometheus.CounterValue, float64(e.NonRmapPacketReceived.Load()))
		ch <- prometheus.MustNewConstMetric(rmapErroneousDesc, prometheus.CounterValue, float64(e.ErroneousReplyPackets.Load()))
		ch <- prometheus.MustNewConstMetric(rmapStoreErrorDesc, prometheus.CounterValue, float64(e.ErrorInStoringReplyPacket.Load()))
	}

	if c.distributor != nil {
		regular, def, defName := c.distributor.Channels()
		for name, chn := range regular {
			ch <- prometheus.MustNewConstMetric(busChannelIncomingDesc, prometheus.CounterValue, float64(chn.Counters.Incoming.Load()), name)
			ch <- prometheus.MustNewConstMetric(busChannelAppendedDesc, prometheus.CounterValue, float64(chn.Counters.Appended.Load()), name)
			ch <- prometheus.MustNewConstMetric(busChannelFailedDesc, prometheus.CounterValue, float64(chn.Counters.Failed.Load()), name)
			ch <- prometheus.MustNewConstMetric(busChannelRetrievedDesc, prometheus.CounterValue, float64(chn.Counters.Retrieved.Load()), name)
		}
		if def != nil {
			ch <- prometheus.MustNewConstMetric(busChannelIncomingDesc, prometheus.CounterValue, float64(def.Counters.Incoming.Load()), defName)
			ch <- prometheus.MustNewConstMetric(busChannelAppendedDesc, prometheus.CounterValue, float64(def.Counters.Appended.Load()), defName)
			ch <- prometheus.MustNewConstMetric(busChannelFailedDesc, prometheus.CounterValue, float64(def.Counters.Failed.Load()), defName)
			ch <- prometheus.MustNewConstMetric(busChannelRetrievedDesc, prometheus.CounterValue, float64(def.Counters.Retrieved.Load()), defName)
		}

		d := &c.distributor.Counters
		ch <- prometheus.MustNewConstMetric(busIncomingDesc, prometheus.CounterValue, float64(d.Incoming.Load()))
		ch <- prometheus.MustNewConstMetric(busForwardedDesc, prometheus.CounterValue, float64(d.Forwarded.Load()))
		ch <- prometheus.MustNewConstMetric(busDefaultedDesc, prometheus.CounterValue, float64(d.Defaulted.Load()))
	}
}

// Register creates a fresh registry, registers a collector over the given
// components, and returns the registry for use with an HTTP exposition
// handler (promhttp.HandlerFor).
func Register(initiator *rmap.Initiator, disp *dispatcher.Dispatcher, listeners []NamedListener, distributor *swb.Distributor) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(initiator, disp, listeners, distributor))
	return reg
}
