// Package api implements the control-plane HTTP surface named in spec §6:
// manual call control, campaign lifecycle and automation control, recording
// playback, and trunk registration status, behind admin session auth.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxdial/callengine/internal/api/middleware"
	"github.com/voxdial/callengine/internal/config"
	"github.com/voxdial/callengine/internal/database"
	"github.com/voxdial/callengine/internal/database/models"
	"github.com/voxdial/callengine/internal/scheduler"
	"github.com/voxdial/callengine/internal/sip"
	"github.com/voxdial/callengine/internal/storage"
)

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router *chi.Mux
	cfg    *config.Config

	sessions     *middleware.SessionStore
	adminUsers   database.AdminUserRepository
	systemConfig database.SystemConfigRepository

	campaigns  database.CampaignRepository
	leads      database.LeadRepository
	agents     database.AgentRepository
	calls      database.CallRepository
	recordings database.RecordingRepository

	store *storage.Store
	ua    *sip.UserAgent
	sched *scheduler.CampaignScheduler
}

// Deps bundles the component wiring NewServer needs; introduced so adding a
// new dependency doesn't grow NewServer's positional parameter list.
type Deps struct {
	Config       *config.Config
	Sessions     *middleware.SessionStore
	AdminUsers   database.AdminUserRepository
	SystemConfig database.SystemConfigRepository
	Campaigns    database.CampaignRepository
	Leads        database.LeadRepository
	Agents       database.AgentRepository
	Calls        database.CallRepository
	Recordings   database.RecordingRepository
	Store        *storage.Store
	UserAgent    *sip.UserAgent
	Scheduler    *scheduler.CampaignScheduler
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(d Deps) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		cfg:          d.Config,
		sessions:     d.Sessions,
		adminUsers:   d.AdminUsers,
		systemConfig: d.SystemConfig,
		campaigns:    d.Campaigns,
		leads:        d.Leads,
		agents:       d.Agents,
		calls:        d.Calls,
		recordings:   d.Recordings,
		store:        d.Store,
		ua:           d.UserAgent,
		sched:        d.Scheduler,
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := s.router

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.SecurityHeaders(false))
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())

	authLimiter := middleware.NewIPRateLimiter(middleware.AuthRateLimitConfig())
	apiLimiter := middleware.NewIPRateLimiter(middleware.DefaultRateLimitConfig())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(authLimiter))
			r.Post("/setup", s.handleSetup)
			r.Post("/auth/login", s.handleLogin)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(apiLimiter))
			r.Use(middleware.RequireAuth(s.sessions, false))

			r.Post("/auth/logout", s.handleLogout)
			r.Get("/auth/me", s.handleMe)

			r.Post("/calls/dial", s.handleDialLead)
			r.Post("/calls/direct", s.handleDialDirect)
			r.Post("/calls/{id}/hangup", s.handleHangupCall)

			r.Post("/campaigns/{id}/start", s.handleCampaignStart)
			r.Post("/campaigns/{id}/pause", s.handleCampaignPause)
			r.Post("/campaigns/{id}/stop", s.handleCampaignStop)
			r.Post("/campaigns/{id}/agents/{agentId}", s.handleCampaignAssignAgent)
			r.Delete("/campaigns/{id}/agents/{agentId}", s.handleCampaignUnassignAgent)
			r.Post("/campaigns/{id}/automation/start", s.handleAutomationStart)
			r.Post("/campaigns/{id}/automation/stop", s.handleAutomationStop)
			r.Get("/campaigns/{id}/automation/status", s.handleAutomationStatus)

			r.Get("/recordings", s.handleListRecordings)
			r.Get("/recordings/{id}/stream", s.handleStreamRecording)

			r.Get("/sip/status", s.handleSIPStatus)
			r.Get("/sip/blocked-sources", s.handleSIPBlockedSources)
		})
	})

	slog.Info("api routes mounted")
}

// handleHealth returns basic health status including first-boot detection.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	needsSetup, err := s.isFirstBoot(r.Context())
	if err != nil {
		slog.Error("health: failed to check first-boot status", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"needs_setup": needsSetup,
	})
}

func (s *Server) isFirstBoot(ctx context.Context) (bool, error) {
	count, err := s.adminUsers.Count(ctx)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

// handleSetup completes the first-boot setup wizard by creating the initial
// admin account. Only allowed when no admin users exist yet.
func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	needsSetup, err := s.isFirstBoot(r.Context())
	if err != nil {
		slog.Error("setup: failed to check first-boot status", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !needsSetup {
		writeError(w, http.StatusForbidden, "setup already completed")
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := validateRequiredStringLen("username", req.Username, maxNameLen); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if len(req.Password) < 8 || len(req.Password) > maxPasswordLen {
		writeError(w, http.StatusBadRequest, "password must be 8-256 characters")
		return
	}

	hash, err := database.HashPassword(req.Password)
	if err != nil {
		slog.Error("setup: failed to hash password", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	user := &models.AdminUser{Username: req.Username, PasswordHash: hash}
	if err := s.adminUsers.Create(r.Context(), user); err != nil {
		slog.Error("setup: failed to create admin user", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create admin account")
		return
	}

	slog.Info("setup: initial admin account created", "username", req.Username, "user_id", user.ID)
	writeJSON(w, http.StatusOK, map[string]any{"user_id": user.ID, "username": user.Username})
}

// handleLogin validates admin credentials and creates a session.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := s.adminUsers.GetByUsername(r.Context(), req.Username)
	if err != nil {
		slog.Error("login: failed to query user", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	match, err := database.CheckPassword(req.Password, user.PasswordHash)
	if err != nil {
		slog.Error("login: failed to verify password", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !match {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	sess, err := s.sessions.Create(user.ID, user.Username)
	if err != nil {
		slog.Error("login: failed to create session", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	middleware.SetSessionCookie(w, sess, false)

	slog.Info("admin login", "username", user.Username, "user_id", user.ID)
	writeJSON(w, http.StatusOK, map[string]any{"user_id": user.ID, "username": user.Username})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sessionID := middleware.SessionIDFromContext(r.Context()); sessionID != "" {
		s.sessions.Delete(sessionID)
	}
	middleware.ClearSessionCookie(w, false)
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := middleware.AdminUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": user.ID, "username": user.Username})
}

// dialResponse is the shared shape for /calls/dial and /calls/direct,
// spec §6: "{callId, callControlId, status}".
type dialResponse struct {
	CallID        int64  `json:"callId"`
	CallControlID string `json:"callControlId"`
	Status        string `json:"status"`
}

// handleDialLead places a call from a specific lead to a specific agent,
// outside of campaign automation (manual agent-initiated dial).
func (s *Server) handleDialLead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LeadID  int64 `json:"leadId"`
		AgentID int64 `json:"agentId"`
	}
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	ctx := r.Context()
	lead, err := s.leads.GetByID(ctx, req.LeadID)
	if err != nil || lead == nil {
		writeError(w, http.StatusNotFound, "lead not found")
		return
	}
	agent, err := s.agents.GetByID(ctx, req.AgentID)
	if err != nil || agent == nil {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}

	s.dispatchManualDial(w, ctx, lead.Phone, &req.LeadID, &req.AgentID)
}

// handleDialDirect places a call to a phone number with no associated lead,
// optionally claiming an agent.
func (s *Server) handleDialDirect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PhoneNumber string `json:"phoneNumber"`
		AgentID     *int64 `json:"agentId,omitempty"`
	}
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	normalized, msg := validatePhoneE164("phoneNumber", req.PhoneNumber)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	ctx := r.Context()
	if req.AgentID != nil {
		agent, err := s.agents.GetByID(ctx, *req.AgentID)
		if err != nil || agent == nil {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
	}

	s.dispatchManualDial(w, ctx, normalized, nil, req.AgentID)
}

// dispatchManualDial claims agentID (if given), creates a Call row, and
// dials through the user agent. It mirrors the scheduler's dispatch
// (§4.9 step 6) without the campaign pacing loop around it.
func (s *Server) dispatchManualDial(w http.ResponseWriter, ctx context.Context, phone string, leadID, agentID *int64) {
	if agentID != nil {
		ok, err := s.agents.CompareAndSetStatus(ctx, *agentID, models.AgentReady, models.AgentOnCall)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !ok {
			writeError(w, http.StatusConflict, "agent is not ready")
			return
		}
	}

	call := &models.Call{
		Direction:  models.CallOutbound,
		Status:     models.CallInitiated,
		LeadID:     leadID,
		AgentID:    agentID,
		FromNumber: "",
		ToNumber:   phone,
		StartedAt:  time.Now(),
	}
	if err := s.calls.Create(ctx, call); err != nil {
		slog.Error("dial: failed to create call row", "error", err)
		s.releaseAgent(ctx, agentID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if leadID != nil {
		if err := s.leads.RecordAttempt(ctx, *leadID); err != nil {
			slog.Warn("dial: failed to record lead attempt", "lead_id", *leadID, "error", err)
		}
	}

	sipCall, err := s.ua.Dial(ctx, phone)
	if err != nil {
		call.Status = models.CallFailed
		now := time.Now()
		call.EndedAt = &now
		s.calls.Update(ctx, call)
		s.releaseAgent(ctx, agentID)

		status := http.StatusInternalServerError
		if err == sip.ErrNotRegistered {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}

	call.Status = models.CallRinging
	call.ExternalDialogID = sipCall.CallID
	if err := s.calls.Update(ctx, call); err != nil {
		slog.Error("dial: failed to update call after dial", "call_id", call.ID, "error", err)
	}

	writeJSON(w, http.StatusOK, dialResponse{
		CallID:        call.ID,
		CallControlID: sipCall.CallID,
		Status:        string(call.Status),
	})
}

func (s *Server) releaseAgent(ctx context.Context, agentID *int64) {
	if agentID == nil {
		return
	}
	s.agents.CompareAndSetStatus(ctx, *agentID, models.AgentOnCall, models.AgentReady)
}

// handleHangupCall ends a call by its durable Call ID.
func (s *Server) handleHangupCall(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid call id")
		return
	}

	ctx := r.Context()
	call, err := s.calls.GetByID(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if call == nil {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	if call.ExternalDialogID == "" {
		writeError(w, http.StatusConflict, "call has no active dialog")
		return
	}

	if err := s.ua.Hangup(call.ExternalDialogID); err != nil {
		if err == sip.ErrCallNotFound {
			writeError(w, http.StatusNotFound, "call not found in user agent")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) loadCampaign(w http.ResponseWriter, r *http.Request) (*models.Campaign, int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid campaign id")
		return nil, 0, false
	}
	campaign, err := s.campaigns.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, 0, false
	}
	if campaign == nil {
		writeError(w, http.StatusNotFound, "campaign not found")
		return nil, 0, false
	}
	return campaign, id, true
}

// handleCampaignStart transitions a Draft or Paused campaign to Active.
func (s *Server) handleCampaignStart(w http.ResponseWriter, r *http.Request) {
	campaign, id, ok := s.loadCampaign(w, r)
	if !ok {
		return
	}
	if campaign.Status == models.CampaignCompleted {
		writeError(w, http.StatusConflict, "campaign is already completed")
		return
	}
	if err := s.campaigns.SetStatus(r.Context(), id, models.CampaignActive); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	campaign.Status = models.CampaignActive
	writeJSON(w, http.StatusOK, campaign)
}

// handleCampaignPause transitions an Active campaign to Paused.
func (s *Server) handleCampaignPause(w http.ResponseWriter, r *http.Request) {
	campaign, id, ok := s.loadCampaign(w, r)
	if !ok {
		return
	}
	if err := s.campaigns.SetStatus(r.Context(), id, models.CampaignPaused); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.sched.Stop(id)
	campaign.Status = models.CampaignPaused
	writeJSON(w, http.StatusOK, campaign)
}

// handleCampaignStop transitions a campaign to Completed and halts its
// automation loop, if running.
func (s *Server) handleCampaignStop(w http.ResponseWriter, r *http.Request) {
	campaign, id, ok := s.loadCampaign(w, r)
	if !ok {
		return
	}
	s.sched.Stop(id)
	if err := s.campaigns.SetStatus(r.Context(), id, models.CampaignCompleted); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	campaign.Status = models.CampaignCompleted
	writeJSON(w, http.StatusOK, campaign)
}

// handleCampaignAssignAgent grants an agent membership in the campaign,
// making it eligible for that campaign's dial loop.
func (s *Server) handleCampaignAssignAgent(w http.ResponseWriter, r *http.Request) {
	_, id, ok := s.loadCampaign(w, r)
	if !ok {
		return
	}
	agentID, err := strconv.ParseInt(chi.URLParam(r, "agentId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid agent id")
		return
	}
	agent, err := s.agents.GetByID(r.Context(), agentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if agent == nil {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	if err := s.agents.AssignToCampaign(r.Context(), id, agentID); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCampaignUnassignAgent revokes an agent's membership in the
// campaign.
func (s *Server) handleCampaignUnassignAgent(w http.ResponseWriter, r *http.Request) {
	_, id, ok := s.loadCampaign(w, r)
	if !ok {
		return
	}
	agentID, err := strconv.ParseInt(chi.URLParam(r, "agentId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid agent id")
		return
	}
	if err := s.agents.UnassignFromCampaign(r.Context(), id, agentID); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAutomationStart spins up the campaign's dial loop (§4.9
// start_campaign): rejects InvalidState/AlreadyRunning.
func (s *Server) handleAutomationStart(w http.ResponseWriter, r *http.Request) {
	_, id, ok := s.loadCampaign(w, r)
	if !ok {
		return
	}
	if err := s.sched.Start(r.Context(), id); err != nil {
		switch err {
		case scheduler.ErrInvalidState:
			writeError(w, http.StatusConflict, "campaign is not active")
		case scheduler.ErrAlreadyRunning:
			writeError(w, http.StatusConflict, "campaign automation is already running")
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleAutomationStop(w http.ResponseWriter, r *http.Request) {
	_, id, ok := s.loadCampaign(w, r)
	if !ok {
		return
	}
	s.sched.Stop(id)
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleAutomationStatus(w http.ResponseWriter, r *http.Request) {
	_, id, ok := s.loadCampaign(w, r)
	if !ok {
		return
	}
	st, err := s.sched.Status(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"isRunning":       st.IsRunning,
		"callsInProgress": st.CallsInProgress,
		"leadsProcessed":  st.LeadsProcessed,
		"lastDialAt":      st.LastDialAt,
	})
}

// handleSIPStatus reports the trunk registration state, spec §6.
func (s *Server) handleSIPStatus(w http.ResponseWriter, r *http.Request) {
	status := "not_configured"
	if s.cfg.SIPTrunkHost != "" {
		status = s.ua.State().String()
		if status == "disconnected" {
			status = "connecting"
		}
	}

	resp := map[string]any{
		"status":     status,
		"registered": s.ua.IsRegistered(),
	}
	if s.cfg.SIPTrunkHost != "" {
		resp["trunkHost"] = s.cfg.SIPTrunkHost
		resp["callerId"] = s.cfg.SIPCallerID
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSIPBlockedSources reports sources currently blocked by the inbound
// brute-force guard (spec §7 Authentication: repeated bad auth ⟹ AuthFailed).
func (s *Server) handleSIPBlockedSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ua.BlockedSources())
}

// recordingResponse is the JSON shape for a single listed recording.
type recordingResponse struct {
	ID              int64  `json:"id"`
	CallID          int64  `json:"callId"`
	UploadedAt      string `json:"uploadedAt"`
	DurationSeconds int    `json:"durationSeconds"`
	ByteSize        int64  `json:"byteSize"`
	Format          string `json:"format"`
	ComplianceHold  bool   `json:"complianceHold"`
	AgentName       string `json:"agentName,omitempty"`
	LeadName        string `json:"leadName,omitempty"`
	CampaignName    string `json:"campaignName,omitempty"`
	Disposition     string `json:"disposition,omitempty"`
}

// handleListRecordings returns recordings with pagination, spec §6.
func (s *Server) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	pg, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	recs, total, err := s.recordings.List(r.Context(), pg.Limit, pg.Offset)
	if err != nil {
		slog.Error("list recordings: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]recordingResponse, len(recs))
	for i := range recs {
		rec := &recs[i]
		items[i] = recordingResponse{
			ID:              rec.ID,
			CallID:          rec.CallID,
			UploadedAt:      rec.UploadedAt.Format(time.RFC3339),
			DurationSeconds: rec.DurationSeconds,
			ByteSize:        rec.ByteSize,
			Format:          rec.Format,
			ComplianceHold:  rec.ComplianceHold,
			AgentName:       rec.AgentName,
			LeadName:        rec.LeadName,
			CampaignName:    rec.CampaignName,
			Disposition:     rec.Disposition,
		}
	}

	writeJSON(w, http.StatusOK, PaginatedResponse{Items: items, Total: total, Limit: pg.Limit, Offset: pg.Offset})
}

// handleStreamRecording streams a recording's decrypted bytes, honoring an
// HTTP Range request per spec §6.
func (s *Server) handleStreamRecording(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid recording id")
		return
	}

	rec, err := s.recordings.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("stream recording: failed to query", "error", err, "recording_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "recording not found")
		return
	}

	data, err := s.store.Get(rec.RelativePath, rec.EncryptionKeyID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "recording file not found on disk")
			return
		}
		slog.Error("stream recording: failed to read file", "error", err, "recording_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	contentType := mime.TypeByExtension(filepath.Ext(rec.RelativePath))
	if contentType == "" {
		contentType = "audio/wav"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Accept-Ranges", "bytes")
	serveByteRange(w, r, data)
}

// serveByteRange writes data to w, honoring a single-range "Range:
// bytes=a-b" request header with a 206 response; sends the full body with
// 200 when no range is requested, and 416 with "Content-Range: bytes */N"
// when the range cannot be parsed or starts past the end.
func serveByteRange(w http.ResponseWriter, r *http.Request, data []byte) {
	total := int64(len(data))
	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(total, 10))
		w.WriteHeader(http.StatusOK)
		w.Write(data)
		return
	}

	var start, end int64
	n, err := fmt.Sscanf(rangeHeader, "bytes=%d-%d", &start, &end)
	if err != nil || n < 1 || start < 0 || start >= total {
		n2, err2 := fmt.Sscanf(rangeHeader, "bytes=%d-", &start)
		if err2 != nil || n2 != 1 || start < 0 || start >= total {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", total))
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		end = total - 1
	}
	if n < 2 || end >= total || end < start {
		end = total - 1
	}

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, total))
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.WriteHeader(http.StatusPartialContent)
	w.Write(data[start : end+1])
}
