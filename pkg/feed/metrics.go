package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricPollFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ludex",
		Name:      "feed_poll_failures_total",
		Help:      "Background poll cycles that failed and kept the previous snapshot.",
	})
	metricFramesApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ludex",
		Name:      "feed_frames_applied_total",
		Help:      "Push frames that inserted a new comment.",
	})
	metricFramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ludex",
		Name:      "feed_frames_dropped_total",
		Help:      "Push frames discarded for carrying no comment or a foreign type.",
	})
	metricFramesDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ludex",
		Name:      "feed_frames_duplicate_total",
		Help:      "Push frames whose comment was already held.",
	})
	metricPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ludex",
		Name:      "feed_publish_failures_total",
		Help:      "Comment publishes that failed.",
	})
	metricHeartbeats = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ludex",
		Name:      "feed_heartbeats_sent_total",
		Help:      "Keepalive heartbeats written to the push stream.",
	})
	metricReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ludex",
		Name:      "feed_stream_reconnects_total",
		Help:      "Push stream connection attempts after the first.",
	})
	metricCollectionSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ludex",
		Name:      "feed_comments_held",
		Help:      "Comments currently held in the synchronized collection.",
	})
)
