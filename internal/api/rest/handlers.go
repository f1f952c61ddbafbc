package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/mahakalaqua/visitor-tracker/internal/domain/errors"
	"github.com/mahakalaqua/visitor-tracker/internal/domain/flow"
	"github.com/mahakalaqua/visitor-tracker/internal/domain/values"
	"github.com/mahakalaqua/visitor-tracker/internal/domain/visitor"
	"github.com/mahakalaqua/visitor-tracker/internal/metrics"
	"github.com/mahakalaqua/visitor-tracker/internal/service/tracking"
)

const (
	visitorCookieName = "visitor_id"
	consentCookieName = "cookieConsent"
	cookieMaxAge      = 365 * 24 * 60 * 60 // 1 year
)

// EventStreamer upgrades websocket subscriptions for flow events
type EventStreamer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, visitorID string)
}

// Handler serves the consent flow endpoints the site UI calls
type Handler struct {
	logger   *zap.Logger
	registry *tracking.Registry
	streamer EventStreamer
	metrics  *metrics.Metrics
	validate *validator.Validate

	mu    sync.Mutex
	flows map[string]*flow.Flow
}

// NewHandler creates the flow handler. streamer and m may be nil.
func NewHandler(logger *zap.Logger, registry *tracking.Registry, streamer EventStreamer, m *metrics.Metrics) *Handler {
	return &Handler{
		logger:   logger,
		registry: registry,
		streamer: streamer,
		metrics:  m,
		validate: validator.New(),
		flows:    make(map[string]*flow.Flow),
	}
}

// Register mounts the routes on mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("GET /api/v1/flow", h.handleFlowState)
	mux.HandleFunc("POST /api/v1/flow/cookie", h.handleCookieDecision)
	mux.HandleFunc("POST /api/v1/flow/location", h.handleLocationDecision)
	mux.HandleFunc("POST /api/v1/location", h.handleLocation)
	mux.HandleFunc("POST /api/v1/contact", h.handleContact)
	mux.HandleFunc("GET /api/v1/session", h.handleSession)
	if h.streamer != nil {
		mux.HandleFunc("GET /api/v1/ws", h.handleWS)
	}
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}
}

// DTOs

type cookieDecisionRequest struct {
	Accept *bool `json:"accept" validate:"required"`
}

type locationDecisionRequest struct {
	Allow *bool `json:"allow" validate:"required"`
}

type locationUpdateRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required"`
	Longitude *float64 `json:"longitude" validate:"required"`
	Accuracy  float64  `json:"accuracy"`
	Timezone  string   `json:"timezone"`
}

type contactRequest struct {
	PhoneNumber string `json:"phoneNumber" validate:"required"`
	Name        string `json:"name" validate:"omitempty,min=2"`
	Email       string `json:"email" validate:"omitempty,email"`
}

type flowResponse struct {
	Step    string `json:"step"`
	Visible bool   `json:"visible"`
	Granted *bool  `json:"granted,omitempty"`
}

// Handlers

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleFlowState runs the entry decision for the visitor's flow. Calling
// it again never replays steps already resolved.
func (h *Handler) handleFlowState(w http.ResponseWriter, r *http.Request) {
	visitorID := h.visitorID(w, r)
	f := h.flowFor(visitorID, r)
	writeJSON(w, http.StatusOK, flowResponse{
		Step:    f.Step().String(),
		Visible: f.Visible(),
	})
}

func (h *Handler) handleCookieDecision(w http.ResponseWriter, r *http.Request) {
	visitorID := h.visitorID(w, r)

	var req cookieDecisionRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	coord := h.registry.Get(visitorID)
	f := h.flowFor(visitorID, r)

	event := flow.EventDeclineCookies
	if *req.Accept {
		event = flow.EventAcceptCookies
	}
	next, err := f.Apply(event)
	if err != nil {
		writeError(w, apperrors.NewValidationError("INVALID_STEP", err.Error()))
		return
	}

	// the decision is persisted before the response carries the next step,
	// so a reload observes it
	coord.HandleCookieConsent(r.Context(), *req.Accept, clientMeta(r))
	h.setConsentCookie(w, *req.Accept)
	h.observeTransition(next)

	writeJSON(w, http.StatusOK, flowResponse{Step: next.String(), Visible: true})
}

func (h *Handler) handleLocationDecision(w http.ResponseWriter, r *http.Request) {
	visitorID := h.visitorID(w, r)

	var req locationDecisionRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	coord := h.registry.Get(visitorID)
	f := h.flowFor(visitorID, r)

	event := flow.EventSkipLocation
	if *req.Allow {
		event = flow.EventAllowLocation
	}
	next, err := f.Apply(event)
	if err != nil {
		writeError(w, apperrors.NewValidationError("INVALID_STEP", err.Error()))
		return
	}

	var granted bool
	if *req.Allow {
		// may suspend up to the acquisition watchdog; the flow advances
		// regardless of the outcome
		granted = coord.RequestLocationPermission(r.Context())
	} else {
		coord.MarkLocationSkipped(r.Context())
	}
	h.observeTransition(next)

	writeJSON(w, http.StatusOK, flowResponse{
		Step:    next.String(),
		Visible: true,
		Granted: &granted,
	})
}

// handleLocation accepts an explicit position report, for clients that hold
// their own fix instead of going through the permission flow.
func (h *Handler) handleLocation(w http.ResponseWriter, r *http.Request) {
	visitorID := h.visitorID(w, r)

	var req locationUpdateRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	coord, err := values.NewCoordinate(*req.Latitude, *req.Longitude)
	if err != nil {
		writeError(w, apperrors.NewValidationError("INVALID_COORDINATE", err.Error()))
		return
	}

	data := visitor.LocationData{
		Latitude:  coord.Latitude(),
		Longitude: coord.Longitude(),
		Accuracy:  req.Accuracy,
		Timezone:  req.Timezone,
	}
	if !h.registry.Get(visitorID).UpdateLocation(r.Context(), data) {
		writeError(w, apperrors.NewExternalError("visitor backend", "location submission failed"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) handleContact(w http.ResponseWriter, r *http.Request) {
	visitorID := h.visitorID(w, r)

	var req contactRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	data, err := visitor.NewContactData(req.PhoneNumber, req.Name, req.Email)
	if err != nil {
		writeError(w, err)
		return
	}

	coord := h.registry.Get(visitorID)
	if !coord.UpdateContact(r.Context(), data) {
		writeError(w, apperrors.NewExternalError("visitor backend", "contact submission failed"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	visitorID := h.visitorID(w, r)
	session := h.registry.Get(visitorID).GetSession(r.Context())
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	visitorID := h.visitorID(w, r)
	h.streamer.ServeWS(w, r, visitorID)
}

// helpers

// visitorID returns the visitor's id cookie, minting one on first contact
func (h *Handler) visitorID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(visitorCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	id := uuid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     visitorCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   cookieMaxAge,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// setConsentCookie mirrors the consent decision into a 1-year cookie for
// server-side visibility
func (h *Handler) setConsentCookie(w http.ResponseWriter, consent bool) {
	value := "false"
	if consent {
		value = "true"
	}
	http.SetCookie(w, &http.Cookie{
		Name:     consentCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   cookieMaxAge,
		SameSite: http.SameSiteLaxMode,
	})
}

// flowFor returns the visitor's live flow instance, running the entry
// decision when none exists
func (h *Handler) flowFor(visitorID string, r *http.Request) *flow.Flow {
	h.mu.Lock()
	defer h.mu.Unlock()
	if f, ok := h.flows[visitorID]; ok {
		return f
	}

	coord := h.registry.Get(visitorID)
	state := coord.FlowEntryState(r.Context())
	var f *flow.Flow
	f = flow.New(state, func() {
		h.onFlowCompleted(visitorID, f)
	})
	h.flows[visitorID] = f
	return f
}

// onFlowCompleted hides the flow after the display delay and retires the
// instance so the next mount re-runs the entry decision
func (h *Handler) onFlowCompleted(visitorID string, f *flow.Flow) {
	if h.metrics != nil {
		h.metrics.ObserveFlowTransition(flow.StepCompleted.String())
	}
	time.AfterFunc(flow.HideDelay, func() {
		f.Hide()
		h.mu.Lock()
		delete(h.flows, visitorID)
		h.mu.Unlock()
	})
}

func (h *Handler) observeTransition(step flow.Step) {
	if h.metrics != nil && step != flow.StepCompleted {
		// completed is counted by the one-shot completion callback
		h.metrics.ObserveFlowTransition(step.String())
	}
}

func (h *Handler) decode(r *http.Request, out interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return apperrors.NewValidationError("MALFORMED_BODY", "request body is not valid JSON").WithCause(err)
	}
	if err := h.validate.Struct(out); err != nil {
		appErr := apperrors.NewValidationError("INVALID_REQUEST", "request failed validation")
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				appErr.WithField(fe.Field(), fe.Tag())
			}
		}
		return appErr
	}
	return nil
}

func clientMeta(r *http.Request) visitor.ClientMeta {
	return visitor.ClientMeta{
		UserAgent: r.UserAgent(),
		Language:  r.Header.Get("Accept-Language"),
		Path:      r.Header.Get("X-Page-Path"),
		Referrer:  r.Referer(),
	}
}
