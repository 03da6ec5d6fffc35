package api

import (
	"net/http"
	"time"

	"github.com/sushil32/Neura/internal/database"
	"github.com/sushil32/Neura/internal/encode"
	"github.com/sushil32/Neura/internal/events"
	"github.com/sushil32/Neura/internal/jobs"
	"github.com/sushil32/Neura/internal/live"
	"github.com/sushil32/Neura/internal/storage"
)

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
	Queue         *jobs.QueueStats  `json:"queue,omitempty"`
	LiveSessions  int               `json:"live_sessions"`
}

type HealthHandler struct {
	db        *database.DB
	mqtt      *events.MQTTPublisher
	pool      *jobs.WorkerPool
	live      *live.Manager
	artifacts storage.ArtifactStore
	version   string
	startTime time.Time
}

func NewHealthHandler(db *database.DB, mqtt *events.MQTTPublisher, pool *jobs.WorkerPool, liveMgr *live.Manager, artifacts storage.ArtifactStore, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		db:        db,
		mqtt:      mqtt,
		pool:      pool,
		live:      liveMgr,
		artifacts: artifacts,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	// Database check. Running without one is a supported deployment.
	if h.db != nil {
		if err := h.db.HealthCheck(r.Context()); err != nil {
			checks["database"] = "error"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not_configured"
	}

	// MQTT check
	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	// Encoder check. Jobs fail at the encode step without ffmpeg.
	if err := encode.CheckFFmpeg(); err != nil {
		checks["ffmpeg"] = "missing"
		if status == "healthy" {
			status = "degraded"
		}
	} else {
		checks["ffmpeg"] = "ok"
	}

	if h.artifacts != nil {
		checks["storage"] = h.artifacts.Type()
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	}
	if h.pool != nil {
		stats := h.pool.Stats()
		resp.Queue = &stats
	}
	if h.live != nil {
		resp.LiveSessions = h.live.Count()
	}

	WriteJSON(w, httpStatus, resp)
}
