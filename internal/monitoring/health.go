// Package monitoring serves health and Prometheus endpoints next to a
// generation run.
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-gpt2/internal/config"
	"github.com/23skdu/longbow-gpt2/internal/logger"
)

const (
	maxPerfPoints = 1000
	maxAlerts     = 100

	slowStep = 5 * time.Second
)

// HealthStatus represents the health status of the system
type HealthStatus struct {
	Status      string          `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
	Uptime      string          `json:"uptime"`
	System      SystemInfo      `json:"system"`
	Model       ModelInfo       `json:"model"`
	Performance PerformanceInfo `json:"performance"`
	Alerts      []Alert         `json:"alerts"`
}

type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	OS           string `json:"os"`
	Arch         string `json:"arch"`
	NumCPU       int    `json:"num_cpu"`
	MemoryMB     int    `json:"memory_mb"`
	MemoryUsedMB int    `json:"memory_used_mb"`
}

type ModelInfo struct {
	Loaded    bool   `json:"loaded"`
	Source    string `json:"source"`
	Layers    int    `json:"layers"`
	Heads     int    `json:"heads"`
	Dim       int    `json:"dim"`
	VocabSize int    `json:"vocab_size"`
	SeqLen    int    `json:"seq_len"`
	Precision string `json:"precision"`
}

type PerformanceInfo struct {
	Steps           int       `json:"steps"`
	TokensPerSecond float64   `json:"tokens_per_second"`
	AvgLatencyMs    float64   `json:"avg_latency_ms"`
	P95LatencyMs    float64   `json:"p95_latency_ms"`
	LastInference   time.Time `json:"last_inference"`
}

type Alert struct {
	Level     string    `json:"level"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type perfPoint struct {
	tokens   int
	duration time.Duration
}

// HealthMonitor tracks model state and step latency and serves them over
// HTTP.
type HealthMonitor struct {
	startTime time.Time
	server    *http.Server
	listener  net.Listener

	mu            sync.RWMutex
	model         ModelInfo
	alerts        []Alert
	lastInference time.Time
	perfHistory   []perfPoint
}

func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{startTime: time.Now()}
}

// Handler returns the monitor's routes.
func (hm *HealthMonitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", hm.handleHealth)
	mux.HandleFunc("/healthz", hm.handleHealth)
	mux.HandleFunc("/status", hm.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start listens on addr and serves in the background.
func (hm *HealthMonitor) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("monitoring listen %s: %w", addr, err)
	}
	hm.listener = ln
	hm.server = &http.Server{
		Handler:      hm.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := hm.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error("monitoring server stopped", "err", err)
		}
	}()
	logger.Log.Info("monitoring started", "addr", ln.Addr().String())
	return nil
}

// Addr is the bound address after Start.
func (hm *HealthMonitor) Addr() net.Addr {
	if hm.listener == nil {
		return nil
	}
	return hm.listener.Addr()
}

func (hm *HealthMonitor) Stop(ctx context.Context) error {
	if hm.server != nil {
		return hm.server.Shutdown(ctx)
	}
	return nil
}

// SetModel marks the model as loaded.
func (hm *HealthMonitor) SetModel(c config.Config, source string) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.model = ModelInfo{
		Loaded:    true,
		Source:    source,
		Layers:    c.Layers,
		Heads:     c.Heads,
		Dim:       c.Dim,
		VocabSize: c.VocabSize,
		SeqLen:    c.SeqLen,
		Precision: string(c.Precision),
	}
}

// ObserveStep records one generation step.
func (hm *HealthMonitor) ObserveStep(tokens int, duration time.Duration) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.lastInference = time.Now()
	hm.perfHistory = append(hm.perfHistory, perfPoint{tokens: tokens, duration: duration})
	if len(hm.perfHistory) > maxPerfPoints {
		hm.perfHistory = hm.perfHistory[1:]
	}
	if duration > slowStep {
		hm.addAlertLocked("warning", "engine", fmt.Sprintf("slow step: %s", duration))
	}
}

func (hm *HealthMonitor) AddAlert(level, component, message string) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.addAlertLocked(level, component, message)
}

func (hm *HealthMonitor) addAlertLocked(level, component, message string) {
	hm.alerts = append(hm.alerts, Alert{Level: level, Component: component, Message: message, Timestamp: time.Now()})
	if len(hm.alerts) > maxAlerts {
		hm.alerts = hm.alerts[1:]
	}
	logger.Log.Warn("alert", "level", level, "component", component, "message", message)
}

func (hm *HealthMonitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := hm.Status()
	w.Header().Set("Content-Type", "application/json")
	if status.Status == "healthy" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":    status.Status,
		"timestamp": status.Timestamp.Format(time.RFC3339),
	})
}

func (hm *HealthMonitor) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(hm.Status())
}

// Status is "starting" until a model is set, then "healthy" unless an
// error or critical alert was raised.
func (hm *HealthMonitor) Status() HealthStatus {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	status := "healthy"
	if !hm.model.Loaded {
		status = "starting"
	}
	for _, a := range hm.alerts {
		if a.Level == "critical" {
			status = "critical"
			break
		}
		if a.Level == "error" {
			status = "degraded"
		}
	}

	return HealthStatus{
		Status:      status,
		Timestamp:   time.Now(),
		Uptime:      time.Since(hm.startTime).String(),
		System:      systemInfo(),
		Model:       hm.model,
		Performance: hm.performance(),
		Alerts:      slices.Clone(hm.alerts),
	}
}

func systemInfo() SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return SystemInfo{
		GoVersion:    runtime.Version(),
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		NumCPU:       runtime.NumCPU(),
		MemoryMB:     int(m.Sys / 1024 / 1024),
		MemoryUsedMB: int(m.Alloc / 1024 / 1024),
	}
}

func (hm *HealthMonitor) performance() PerformanceInfo {
	info := PerformanceInfo{Steps: len(hm.perfHistory), LastInference: hm.lastInference}
	if len(hm.perfHistory) == 0 {
		return info
	}
	var tokens int
	var total time.Duration
	latencies := make([]float64, len(hm.perfHistory))
	for i, p := range hm.perfHistory {
		tokens += p.tokens
		total += p.duration
		latencies[i] = float64(p.duration.Nanoseconds()) / 1e6
	}
	slices.Sort(latencies)
	p95 := min(int(float64(len(latencies))*0.95), len(latencies)-1)

	info.AvgLatencyMs = float64(total.Nanoseconds()) / float64(len(hm.perfHistory)) / 1e6
	info.P95LatencyMs = latencies[p95]
	if total > 0 {
		info.TokensPerSecond = float64(tokens) / total.Seconds()
	}
	return info
}
