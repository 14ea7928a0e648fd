package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"examguard/internal/config"
	"examguard/internal/events"
	"examguard/internal/flags"
	"examguard/internal/model"
	"examguard/internal/session"
	"examguard/internal/stats"
)

type Server struct {
	cfg      *config.Manager
	sessions *session.Manager
	events   *events.Store
	stats    *stats.Store
	flags    *flags.Store
	logger   *slog.Logger
	version  string
}

type statusResponse struct {
	Status         string          `json:"status"`
	Time           string          `json:"time"`
	Version        string          `json:"version"`
	ConfigPath     string          `json:"config_path"`
	ActiveSessions int             `json:"active_sessions"`
	Sensitivity    string          `json:"sensitivity"`
	Ingest         ingestStatus    `json:"ingest"`
	API            apiStatus       `json:"api"`
	Backend        backendStatus   `json:"backend"`
}

type ingestStatus struct {
	REST      bool `json:"rest"`
	TCPStream bool `json:"tcp_stream"`
	Replay    bool `json:"replay"`
	Kafka     bool `json:"kafka"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

type backendStatus struct {
	Enabled bool   `json:"enabled"`
	BaseURL string `json:"base_url"`
}

func Start(ctx context.Context, cfg *config.Manager, sessions *session.Manager, eventStore *events.Store, statStore *stats.Store, flagStore *flags.Store, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := &Server{
		cfg:      cfg,
		sessions: sessions,
		events:   eventStore,
		stats:    statStore,
		flags:    flagStore,
		logger:   logger,
		version:  version,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", server.handleStatus)
	mux.HandleFunc("/sessions", server.handleSessions)
	mux.HandleFunc("/sessions/", server.handleSessionSub)
	mux.HandleFunc("/events", server.handleEvents)
	mux.HandleFunc("/flags", server.handleFlags)
	mux.HandleFunc("/flags/", server.handleFlagDecision)
	mux.HandleFunc("/admin/clear", server.handleClear)

	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:         "ok",
		Time:           time.Now().UTC().Format(time.RFC3339Nano),
		Version:        s.version,
		ConfigPath:     s.cfg.Path(),
		ActiveSessions: s.sessions.ActiveCount(),
		Sensitivity:    string(cfg.Detection.Sensitivity),
		Ingest: ingestStatus{
			REST:      cfg.Ingest.REST.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
			Replay:    cfg.Ingest.Replay.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
		},
		API:     apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
		Backend: backendStatus{Enabled: cfg.Backend.Enabled, BaseURL: cfg.Backend.BaseURL},
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list := s.sessions.List()
		writeJSON(w, http.StatusOK, map[string]any{
			"sessions": list,
			"count":    len(list),
		})
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var opts session.StartOptions
		if err := json.Unmarshal(body, &opts); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		sess, err := s.sessions.Start(r.Context(), opts)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusCreated, sess)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSessionSub(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/sessions/")
	parts := strings.SplitN(rest, "/", 2)
	sessionUUID := parts[0]
	if sessionUUID == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		sess, ok := s.sessions.Get(sessionUUID)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	case "stop":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		var req struct {
			Status model.SessionStatus `json:"status"`
		}
		_ = json.Unmarshal(body, &req)
		if req.Status == "" {
			req.Status = model.SessionCompleted
		}
		sess, err := s.sessions.Stop(r.Context(), sessionUUID, req.Status)
		if err != nil {
			if errors.Is(err, session.ErrSessionNotFound) {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, sess)
	case "analysis":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		analysis, err := s.sessions.Analysis(r.Context(), sessionUUID)
		if err != nil {
			if errors.Is(err, session.ErrSessionNotFound) {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, analysis)
	case "stats":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		list, updated, ok := s.stats.Get(sessionUUID)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session_uuid": sessionUUID,
			"updated_at":   updated.Format(time.RFC3339Nano),
			"stats":        list,
		})
	case "flags":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		list := s.flags.BySession(sessionUUID)
		writeJSON(w, http.StatusOK, map[string]any{
			"flags": list,
			"count": len(list),
		})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	sinceStr := r.URL.Query().Get("since")
	var list []model.ProctorEvent
	if sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.events.Since(ts)
	} else {
		list = s.events.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": list,
		"count":  len(list),
	})
}

func (s *Server) handleFlags(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sessionUUID := r.URL.Query().Get("session_uuid")
		if sessionUUID == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list := s.flags.BySession(sessionUUID)
		writeJSON(w, http.StatusOK, map[string]any{
			"flags": list,
			"count": len(list),
		})
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var req struct {
			SessionUUID string          `json:"session_uuid"`
			FlagType    model.EventType `json:"flag_type"`
			Confidence  float64         `json:"confidence_score"`
			Evidence    []string        `json:"evidence"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.SessionUUID == "" || req.FlagType == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		flag := s.flags.AddManual(req.SessionUUID, req.FlagType, req.Confidence, req.Evidence)
		writeJSON(w, http.StatusCreated, flag)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleFlagDecision(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/flags/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[1] != "decision" || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var req struct {
		Decision model.ReviewerDecision `json:"decision"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := s.flags.Decide(parts[0], req.Decision); err != nil {
		if errors.Is(err, flags.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	flag, _ := s.flags.Get(parts[0])
	writeJSON(w, http.StatusOK, flag)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		if s.events != nil {
			s.events.Clear()
		}
		if s.stats != nil {
			s.stats.Clear()
		}
	case "events":
		if s.events != nil {
			s.events.Clear()
		}
	case "stats":
		if s.stats != nil {
			s.stats.Clear()
		}
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
