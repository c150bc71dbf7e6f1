package core

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// HealthStatus represents the health state of the replay service
type HealthStatus struct {
	Status        string `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds int64  `json:"uptime_seconds"`
	MQTTConnected bool   `json:"mqtt_connected"`
	Configured    bool   `json:"configured"`
	Reading       bool   `json:"reading"`
	PositionUs    int64  `json:"position_us"`
	Outstanding   int64  `json:"outstanding"`
	LoopPanics    uint64 `json:"loop_panics"`
}

// HealthCheck returns the current health status of the service
func (r *Replayer) HealthCheck() HealthStatus {
	r.mu.RLock()
	running, started := r.isRunning, r.started
	r.mu.RUnlock()

	st := r.controller.Stats()
	status := HealthStatus{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(started).Seconds()),
		MQTTConnected: r.client != nil && r.client.IsConnected(),
		Configured:    st.Configured,
		Reading:       st.State.Reading,
		PositionUs:    st.State.PositionUs,
		Outstanding:   st.Outstanding,
		LoopPanics:    st.LoopPanics,
	}

	switch {
	case !running:
		status.Status = "unhealthy"
	case !status.MQTTConnected || st.LoopPanics > 0:
		status.Status = "degraded"
	}
	return status
}

// LivenessHandler handles /health (process is alive)
func (r *Replayer) LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	r.mu.RLock()
	started := r.started
	r.mu.RUnlock()

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": int64(time.Since(started).Seconds()),
	})
}

// ReadinessHandler handles /readiness
func (r *Replayer) ReadinessHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := r.HealthCheck()
	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(health)
}

// MetricsHandler handles /metrics in Prometheus text format
func (r *Replayer) MetricsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)

	st := r.controller.Stats()
	label := fmt.Sprintf("{instance=%q}", r.cfg.InstanceID)
	fmt.Fprintf(w, "replay_frames_emitted_total%s %d\n", label, st.FramesEmitted)
	fmt.Fprintf(w, "replay_events_published_total%s %d\n", label, st.EventsPublished)
	fmt.Fprintf(w, "replay_read_errors_total%s %d\n", label, st.ReadErrors)
	fmt.Fprintf(w, "replay_publish_errors_total%s %d\n", label, st.PublishErrors)
	fmt.Fprintf(w, "replay_outstanding_captures%s %d\n", label, st.Outstanding)
	fmt.Fprintf(w, "replay_position_us%s %d\n", label, st.State.PositionUs)
	fmt.Fprintf(w, "replay_pacing_lag_mean_seconds%s %g\n", label, st.Pacing.LagMean.Seconds())
}

// Handler returns the health and metrics endpoints
func (r *Replayer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", r.LivenessHandler)
	mux.HandleFunc("/readiness", r.ReadinessHandler)
	mux.HandleFunc("/metrics", r.MetricsHandler)
	return mux
}

// StartHealthServer starts the HTTP health server on the given port.
// It does not block.
func (r *Replayer) StartHealthServer(port string) *http.Server {
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("starting health check server",
		"port", port,
		"endpoints", []string{"/health", "/readiness", "/metrics"},
	)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health check server failed", "error", err)
		}
	}()

	return server
}
