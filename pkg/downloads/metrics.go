package downloads

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricCommands = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ludex",
		Name:      "downloads_commands_total",
		Help:      "Pause, resume, and cancel commands issued to the engine.",
	})
	metricCommandFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ludex",
		Name:      "downloads_command_failures_total",
		Help:      "Engine commands that failed.",
	})
)
