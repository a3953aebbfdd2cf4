package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Polling metrics
	SamplesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presenced_samples_total",
			Help: "Total presence samples processed",
		},
		[]string{"availability"},
	)

	PollErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "presenced_poll_errors_total",
			Help: "Presence poll attempts that failed",
		},
	)

	PollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "presenced_poll_duration_seconds",
			Help:    "Presence poll round-trip duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// Interval metrics
	IntervalsOpened = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "presenced_intervals_opened_total",
			Help: "Unavailability intervals opened",
		},
	)

	IntervalsClosed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "presenced_intervals_closed_total",
			Help: "Unavailability intervals closed",
		},
	)

	IntervalDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "presenced_interval_duration_seconds",
			Help:    "Duration of closed unavailability intervals in seconds",
			Buckets: []float64{60, 300, 600, 1800, 3600, 7200, 14400, 28800},
		},
	)

	OpenIntervals = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "presenced_open_intervals",
			Help: "Unavailability intervals currently open",
		},
	)

	// Directory metrics
	TrackedUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "presenced_tracked_users",
			Help: "Users resolved and tracked in the current session",
		},
	)

	// Notification metrics
	NotificationsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "presenced_notifications_sent_total",
			Help: "Notifications delivered successfully",
		},
	)

	NotificationsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "presenced_notifications_failed_total",
			Help: "Notification deliveries that failed",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		SamplesTotal,
		PollErrors,
		PollDuration,
		IntervalsOpened,
		IntervalsClosed,
		IntervalDuration,
		OpenIntervals,
		TrackedUsers,
		NotificationsSent,
		NotificationsFailed,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			// Use systemd socket-activated listener
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			// Create and bind listener ourselves
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
