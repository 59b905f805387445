package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionUp              = promauto.NewGauge(prometheus.GaugeOpts{Name: "burrow_session_up", Help: "1 while the tunnel session is registered"})
	ForwardsTotal          = promauto.NewCounterVec(prometheus.CounterOpts{Name: "burrow_forwards_total", Help: "Forwarded requests by outcome"}, []string{"outcome"})
	ForwardDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{Name: "burrow_forward_duration_seconds", Help: "Local forward duration seconds", Buckets: prometheus.ExponentialBuckets(0.005, 2, 14)})
	ReconnectsTotal        = promauto.NewCounter(prometheus.CounterOpts{Name: "burrow_reconnects_total", Help: "Reconnect attempts after a lost channel"})
	DroppedFramesTotal     = promauto.NewCounter(prometheus.CounterOpts{Name: "burrow_dropped_frames_total", Help: "Malformed or unknown frames discarded"})
	DroppedResponsesTotal  = promauto.NewCounter(prometheus.CounterOpts{Name: "burrow_dropped_responses_total", Help: "Responses dropped because the channel closed mid-flight"})
	ReplaysTotal           = promauto.NewCounter(prometheus.CounterOpts{Name: "burrow_replays_total", Help: "Manual replays of the last forwarded request"})
)
