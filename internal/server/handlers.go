package server

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meridian-keys/campaign-tracker/internal/model"
)

const (
	visitorCookieName   = "mk_visitor"
	bootstrapCookieName = "mk_bootstrap"

	visitorCookieMaxAge   = 365 * 24 * 60 * 60
	bootstrapCookieMaxAge = 5 * 60
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type bookingRequest struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	PreferredDate string `json:"preferredDate"`
	Source        string `json:"source"`
	CampaignID    string `json:"campaignId"`
}

type bookingResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	BookingID string `json:"bookingId,omitempty"`
}

// handleBooking always answers 200: a scheduling problem on our side must
// render as a polite message, not a broken form.
func (s *Server) handleBooking(w http.ResponseWriter, r *http.Request) {
	s.processBooking(w, r, false)
}

func (s *Server) handleBookingTest(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.DevMode {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
		return
	}
	s.processBooking(w, r, true)
}

func (s *Server) processBooking(w http.ResponseWriter, r *http.Request, test bool) {
	var req bookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, bookingResponse{
			Message: "We couldn't read your request. Please try again or call us.",
		})
		return
	}
	if req.Name == "" || req.Email == "" {
		writeJSON(w, http.StatusOK, bookingResponse{
			Message: "Name and email are required.",
		})
		return
	}

	booking := &model.Booking{
		ID:            uuid.NewString(),
		Name:          req.Name,
		Email:         req.Email,
		Phone:         req.Phone,
		PreferredDate: req.PreferredDate,
		Source:        req.Source,
		CampaignID:    req.CampaignID,
		CreatedAt:     s.nowFunc().UTC(),
	}

	if err := s.store.CreateBooking(r.Context(), booking); err != nil {
		zap.L().Error("booking: persist failed",
			zap.String("booking_id", booking.ID),
			zap.Error(err),
		)
	}

	if !test {
		s.facade.CaptureServer(r.Context(), s.distinctID(r), "booking_completed",
			map[string]any{
				"booking_id":     booking.ID,
				"source_section": booking.Source,
				"campaign_id":    booking.CampaignID,
				"method":         "form",
			},
			map[string]any{"email": booking.Email, "name": booking.Name},
		)
		if s.leads != nil {
			s.leads.PushBooking(r.Context(), booking)
		}
	}

	writeJSON(w, http.StatusOK, bookingResponse{
		Success:   true,
		Message:   "Thanks! We'll confirm your showroom visit shortly.",
		BookingID: booking.ID,
	})
}

type errorTrackingRequest struct {
	Error   string         `json:"error"`
	Event   string         `json:"event"`
	Context map[string]any `json:"context"`
}

// handleErrorTracking accepts client error reports. A broken page can report
// in a tight loop, so reports above the burst are dropped; the response is
// still 200 because this is a fire-and-forget beacon and the reporting page
// must never see an error from its own error reporter.
func (s *Server) handleErrorTracking(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
		return
	}

	var req errorTrackingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
		return
	}

	name := req.Event
	if name == "" {
		name = "client_error"
	}
	props := make(map[string]any, len(req.Context)+1)
	for k, v := range req.Context {
		props[k] = v
	}
	if req.Error != "" {
		props["error"] = req.Error
	}

	s.facade.CaptureServer(r.Context(), s.distinctID(r), name, props, nil)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type calWebhookRequest struct {
	TriggerEvent string          `json:"triggerEvent"`
	Payload      json.RawMessage `json:"payload"`
}

// handleCalWebhook ingests Cal.com booking webhooks. Unknown trigger events
// are acknowledged and dropped; the provider retries on anything else.
func (s *Server) handleCalWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	var req calWebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	var eventName string
	switch req.TriggerEvent {
	case "BOOKING_CREATED":
		eventName = "cal_booking_created"
	case "BOOKING_CANCELLED":
		eventName = "cal_booking_cancelled"
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	delivery := &model.WebhookDelivery{
		ID:           uuid.NewString(),
		Provider:     "cal.com",
		TriggerEvent: req.TriggerEvent,
		Payload:      body,
		ReceivedAt:   s.nowFunc().UTC(),
	}
	if err := s.store.RecordWebhook(r.Context(), delivery); err != nil {
		zap.L().Error("webhook: persist failed",
			zap.String("delivery_id", delivery.ID),
			zap.Error(err),
		)
	}

	s.facade.CaptureServer(r.Context(), "cal-webhook", eventName,
		map[string]any{"trigger_event": req.TriggerEvent, "delivery_id": delivery.ID}, nil)

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type bootstrapResponse struct {
	model.BootstrapPayload
	MapsAPIKey string `json:"mapsApiKey,omitempty"`
}

// handleBootstrap hands the client its identity and flag values so capture
// can start without a flags round-trip. The visitor cookie is set once and
// kept for a year; the bootstrap cookie marks payload freshness for five
// minutes.
func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	visitor, isNew := s.visitorFromRequest(r)

	if isNew {
		setCookie(w, visitorCookieName, encodeCookie(visitor), visitorCookieMaxAge)
	}
	setCookie(w, bootstrapCookieName, "1", bootstrapCookieMaxAge)

	flags := make(map[string]bool, len(s.flags))
	for k, v := range s.flags {
		flags[k] = v
	}

	writeJSON(w, http.StatusOK, bootstrapResponse{
		BootstrapPayload: model.BootstrapPayload{
			DistinctID:   visitor.DistinctID,
			FeatureFlags: flags,
			Timestamp:    s.nowFunc().UTC(),
		},
		MapsAPIKey: s.mapsKey,
	})
}

type consentRequest struct {
	Analytics   bool `json:"analytics"`
	Advertising bool `json:"advertising"`
	Functional  bool `json:"functional"`
}

func (s *Server) handleConsent(w http.ResponseWriter, r *http.Request) {
	var req consentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	visitorID := s.distinctID(r)
	pref := &model.ConsentPreference{
		Analytics:   req.Analytics,
		Advertising: req.Advertising,
		Functional:  req.Functional,
		Timestamp:   s.nowFunc().UTC(),
	}
	if err := s.store.SetConsent(r.Context(), visitorID, pref); err != nil {
		zap.L().Error("consent: persist failed",
			zap.String("visitor_id", visitorID),
			zap.Error(err),
		)
	}

	s.facade.CaptureServer(r.Context(), visitorID, "consent_updated", map[string]any{
		"analytics":   req.Analytics,
		"advertising": req.Advertising,
		"functional":  req.Functional,
	}, nil)

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleDebugEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":  s.facade.Stats(),
		"recent": s.facade.Recent(50),
	})
}

// visitorFromRequest returns the visitor identity from the cookie, minting a
// new one when absent or unreadable.
func (s *Server) visitorFromRequest(r *http.Request) (*model.VisitorCookie, bool) {
	if c, err := r.Cookie(visitorCookieName); err == nil {
		if visitor := decodeCookie(c.Value); visitor != nil {
			return visitor, false
		}
	}

	visitor := &model.VisitorCookie{
		DistinctID: uuid.NewString(),
		DeviceID:   uuid.NewString(),
	}
	if ref := r.Referer(); ref != "" {
		visitor.InitialReferrer = ref
		if u, err := url.Parse(ref); err == nil {
			visitor.InitialReferringDomain = u.Hostname()
		}
	}
	return visitor, true
}

func (s *Server) distinctID(r *http.Request) string {
	if c, err := r.Cookie(visitorCookieName); err == nil {
		if visitor := decodeCookie(c.Value); visitor != nil {
			return visitor.DistinctID
		}
	}
	return "anonymous"
}

func encodeCookie(v *model.VisitorCookie) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCookie(value string) *model.VisitorCookie {
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil
	}
	var v model.VisitorCookie
	if err := json.Unmarshal(raw, &v); err != nil || v.DistinctID == "" {
		return nil
	}
	return &v
}

func setCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		Expires:  time.Now().Add(time.Duration(maxAge) * time.Second),
		SameSite: http.SameSiteLaxMode,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Warn("write response failed", zap.Error(err))
	}
}
