package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/whatsadvisor/funnelbot/internal/funnel"
	"github.com/whatsadvisor/funnelbot/internal/messaging"
	"github.com/whatsadvisor/funnelbot/internal/models"
)

// startRequest is the POST /start payload. Both fields fall back to the
// server defaults when omitted.
type startRequest struct {
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

func (s *Server) startHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.startHandler: processing start request", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req startRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			slog.Warn("Server.startHandler: failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
	}

	role := req.Role
	if role == "" {
		role = s.defaultRole
	}
	domains := make([]models.Domain, 0, len(req.Permissions))
	for _, p := range req.Permissions {
		domains = append(domains, models.Domain(p))
	}
	if len(domains) == 0 {
		domains = s.defaultDoms
	}
	perms := models.PermissionSet{Role: role, Domains: domains}

	s.mu.Lock()
	if s.engine != nil || s.lifecycle != models.LifecycleDisconnected {
		lifecycle := s.lifecycle
		s.mu.Unlock()
		slog.Warn("Server.startHandler: engine already active", "lifecycle", lifecycle)
		writeJSONResponse(w, http.StatusConflict, models.Error("Engine is already started or starting"))
		return
	}

	svc := s.fixedSvc
	if svc == nil {
		svc = messaging.NewWhatsAppService(s.waClient)
	}
	engine := funnel.NewEngine(
		funnel.WithStore(s.st),
		funnel.WithMessagingService(svc),
		funnel.WithMediaResolver(s.resolver),
		funnel.WithPermissions(perms),
	)
	ctx, cancel := context.WithCancel(context.Background())
	s.engine = engine
	s.svc = svc
	s.cancel = cancel
	if s.waClient == nil {
		// No pairing phase on non-WhatsApp transports.
		s.lifecycle = models.LifecycleConnected
	} else {
		s.lifecycle = models.LifecycleGeneratingQR
	}
	s.mu.Unlock()

	go func() {
		if s.waClient != nil {
			if err := s.waClient.Connect(ctx); err != nil {
				slog.Error("Server.startHandler: WhatsApp connection failed", "error", err)
				s.stopEngine()
				return
			}
		}
		if err := svc.Start(ctx); err != nil {
			slog.Error("Server.startHandler: messaging service start failed", "error", err)
			s.stopEngine()
			return
		}
		engine.Run(ctx)
	}()

	slog.Info("Server.startHandler: engine starting", "role", role, "domains", domains)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Engine starting", perms))
}

func (s *Server) stopHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.stopHandler: processing stop request", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	running := s.engine != nil
	s.mu.Unlock()
	if !running {
		writeJSONResponse(w, http.StatusConflict, models.Error("Engine is not running"))
		return
	}

	s.stopEngine()
	slog.Info("Server.stopHandler: engine stopped")
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Engine stopped", nil))
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	status := models.EngineStatus{
		Lifecycle: s.lifecycle,
		QR:        s.qr,
	}
	engine := s.engine
	s.mu.Unlock()

	if engine != nil {
		perms := engine.Permissions()
		status.Role = perms.Role
		status.Domains = perms.Domains
		if la := engine.LastActivity(); !la.IsZero() {
			status.LastActivity = la.Unix()
		}
		if counts, err := s.st.CountContactStates(); err != nil {
			slog.Warn("Server.statusHandler: failed to count contact states", "error", err)
		} else {
			status.States = counts
		}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(status))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("ok", nil))
}

func (s *Server) unrecognizedHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	contact := r.URL.Query().Get("contact")
	if contact == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing contact parameter"))
		return
	}

	msgs, err := s.st.GetUnrecognizedMessages(contact)
	if err != nil {
		slog.Error("Server.unrecognizedHandler: failed to load messages", "contact", contact, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load unrecognized messages"))
		return
	}
	if msgs == nil {
		msgs = []models.UnrecognizedMessage{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(msgs))
}
