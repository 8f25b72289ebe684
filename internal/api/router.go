package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/topicbridge/internal/bridge"
	"github.com/nerrad567/topicbridge/internal/device"
	"github.com/nerrad567/topicbridge/internal/infrastructure/mqtt"
)

// healthCheckTimeout bounds the dependency checks behind /health.
const healthCheckTimeout = 3 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.metrics.Enabled {
		path := s.metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/objects", s.handleListObjects)

		r.Route("/states/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetState)
			r.Put("/", s.handleSetState)
		})

		r.Post("/publish", s.handlePublish)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth reports the store, session and optional InfluxDB checks.
// Any failing check turns the response into a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{
		"store": checkResult(s.registry.HealthCheck(ctx)),
		"mqtt":  checkResult(s.session.HealthCheck(ctx)),
	}
	if s.influx != nil {
		checks["influxdb"] = checkResult(s.influx.HealthCheck(ctx))
	}

	status, code := "ok", http.StatusOK
	for _, result := range checks {
		if result != "ok" {
			status, code = "degraded", http.StatusServiceUnavailable
			break
		}
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"version": s.version,
		"checks":  checks,
	})
}

func checkResult(err error) string {
	if err != nil {
		return err.Error()
	}
	return "ok"
}

// handleStatus returns the session state, counters and active subscriptions.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	subs := s.session.ActiveSubscriptions()
	if subs == nil {
		subs = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":         s.session.State().String(),
		"stats":         s.session.Stats(),
		"subscriptions": subs,
	})
}

// handleListObjects lists the object tree below the optional prefix.
func (s *Server) handleListObjects(w http.ResponseWriter, r *http.Request) {
	objects := s.registry.ListObjects(r.Context(), r.URL.Query().Get("prefix"))
	if objects == nil {
		objects = []device.Object{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"objects": objects,
		"count":   len(objects),
	})
}

// handleGetState returns the current value of a state.
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	st, err := s.registry.GetState(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrStateNotFound) {
			writeNotFound(w, "state not found")
			return
		}
		s.logger.Error("failed to read state", "id", id, "error", err)
		writeInternalError(w, "failed to read state")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// setStateRequest is the body of PUT /states/{id}.
type setStateRequest struct {
	Value any `json:"value"`
}

// handleSetState writes an unacknowledged value. Mapped ids are published
// by the bridge and acknowledged once the broker confirms.
func (s *Server) handleSetState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := device.ValidateID(id); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	var req setStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.bridge.RequestStateChange(r.Context(), id, req.Value); err != nil {
		switch {
		case errors.Is(err, mqtt.ErrNotConnected):
			writeUnavailable(w, "mqtt session not connected")
		case errors.Is(err, device.ErrInvalidID):
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		default:
			s.logger.Error("failed to set state", "id", id, "error", err)
			writeInternalError(w, "failed to set state")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":     id,
		"value":  req.Value,
		"ack":    false,
		"mapped": s.bridge.Mapped(id),
	})
}

// publishRequest is the body of POST /publish.
type publishRequest struct {
	Topic string `json:"topic"`
	Value any    `json:"value"`
}

// handlePublish publishes a value to an arbitrary topic and waits for the
// broker acknowledgement.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.bridge.RequestPublish(r.Context(), req.Topic, req.Value); err != nil {
		switch {
		case errors.Is(err, mqtt.ErrInvalidTopic):
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		case errors.Is(err, mqtt.ErrNotConnected), errors.Is(err, bridge.ErrStopped):
			writeUnavailable(w, err.Error())
		default:
			s.logger.Warn("manual publish failed", "topic", req.Topic, "error", err)
			writeError(w, http.StatusBadGateway, ErrCodeBadGateway, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"topic":     req.Topic,
		"published": true,
	})
}
