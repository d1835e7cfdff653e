package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ChannelMetrics aggregates the prometheus collectors for the channel
// service. Collectors live on an explicit struct registered against an
// injected registerer, so tests and embedded uses can run isolated
// registries.
type ChannelMetrics struct {
	ChannelsOpened   prometheus.Counter
	UpdatesAccepted  prometheus.Counter
	UpdatesRejected  prometheus.Counter
	DisputesOpened   prometheus.Counter
	DisputesResolved prometheus.Counter
	ChannelsSettled  prometheus.Counter
	ActiveChannels   prometheus.Gauge
}

// NewChannelMetrics builds and registers the channel collectors. Passing nil
// registers against the default prometheus registry.
func NewChannelMetrics(reg prometheus.Registerer) *ChannelMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &ChannelMetrics{
		ChannelsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "statechan_channels_opened_total",
			Help: "Count of channels opened.",
		}),
		UpdatesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "statechan_updates_accepted_total",
			Help: "Count of accepted state updates.",
		}),
		UpdatesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "statechan_updates_rejected_total",
			Help: "Count of rejected state updates.",
		}),
		DisputesOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "statechan_disputes_opened_total",
			Help: "Count of challenges that suspended a channel.",
		}),
		DisputesResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "statechan_disputes_resolved_total",
			Help: "Count of dispute resolutions.",
		}),
		ChannelsSettled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "statechan_channels_settled_total",
			Help: "Count of channels settled.",
		}),
		ActiveChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "statechan_active_channels",
			Help: "Number of channels currently active.",
		}),
	}
	reg.MustRegister(
		m.ChannelsOpened,
		m.UpdatesAccepted,
		m.UpdatesRejected,
		m.DisputesOpened,
		m.DisputesResolved,
		m.ChannelsSettled,
		m.ActiveChannels,
	)
	return m
}
