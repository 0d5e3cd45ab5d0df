// Package server wires the arenabot engine, gateways, and HTTP API together.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/arenabot/arenabot/internal/config"
	"github.com/arenabot/arenabot/internal/engine"
	"github.com/arenabot/arenabot/internal/gateway"
	"github.com/arenabot/arenabot/internal/genai"
	"github.com/arenabot/arenabot/internal/localization"
	"github.com/arenabot/arenabot/internal/model"
	"github.com/arenabot/arenabot/internal/prompt"
	arenaslack "github.com/arenabot/arenabot/internal/slack"
	arenatelegram "github.com/arenabot/arenabot/internal/telegram"
	"github.com/arenabot/arenabot/internal/store"
)

// Server is the arenabot server: engine, chat gateways, HTTP API.
type Server struct {
	config      *config.Config
	store       *store.Store
	engine      *engine.Engine
	loc         *localization.Bundle
	router      chi.Router
	slackBot    *arenaslack.Bot    // nil if Slack is not configured
	telegramBot *arenatelegram.Bot // nil if Telegram is not configured
}

// New creates a new Server with all dependencies.
func New(cfg *config.Config) (*Server, error) {
	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	prompts, err := prompt.Load()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("loading prompts: %w", err)
	}

	loc, err := localization.Load()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("loading locales: %w", err)
	}

	gen := genai.NewClient(cfg.GeminiAPIKey, cfg.GeminiModel)

	s := &Server{
		config: cfg,
		store:  st,
		loc:    loc,
	}
	engineCfg := engine.Config{
		OnEvent: func(event engine.Event) {
			if err := st.SaveEvent(context.Background(), store.BattleEvent{
				Session:   event.Session,
				Channel:   event.Channel,
				Type:      event.Type,
				Data:      event.Data,
				CreatedAt: event.CreatedAt,
			}); err != nil {
				log.Printf("Error saving session event: %v", err)
			}
		},
	}
	s.engine = engine.New(engineCfg, gen, st, prompts, loc)
	s.router = s.buildRouter()

	// Initialize Slack bot if configured.
	if cfg.SlackEnabled() {
		s.slackBot = arenaslack.NewBot(
			cfg.SlackBotToken,
			cfg.SlackAppToken,
			s.engine, // Engine implements gateway.Handler
			s,        // Server implements slack.BattleStarter
			s.engine, // Engine implements slack.Localizer
		)
		log.Println("Slack bot enabled (Socket Mode)")
	}

	// Initialize Telegram bot if configured.
	if cfg.TelegramEnabled() {
		tgBot, err := arenatelegram.NewBot(
			cfg.TelegramBotToken,
			s.engine,
			s,
			s.engine,
		)
		if err != nil {
			log.Printf("Warning: failed to initialize Telegram bot: %v", err)
		} else {
			s.telegramBot = tgBot
			log.Println("Telegram bot enabled (long polling)")
		}
	}

	return s, nil
}

// StartBattle fills channel-level defaults into the session config and opens
// the session. Shared entry point for every gateway.
func (s *Server) StartBattle(ctx context.Context, gw gateway.Gateway, cfg model.SessionConfig) error {
	settings := s.config.Channel(string(cfg.Channel))

	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = s.config.BattleTimeoutSeconds
	}
	if cfg.Locale == "" {
		cfg.Locale = settings.Locale
	}
	if !s.loc.Has(cfg.Locale) {
		cfg.Locale = localization.DefaultLocale
	}
	if cfg.Credential == "" {
		cfg.Credential = settings.APIKey
	}
	if cfg.Model == "" {
		cfg.Model = settings.Model
	}

	_, err := s.engine.StartSession(ctx, gw, cfg)
	return err
}

// Start starts the HTTP server and any configured chat bots. Blocks until
// ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	if s.slackBot != nil {
		go func() {
			if err := s.slackBot.Run(ctx); err != nil {
				log.Printf("Slack bot error: %v", err)
			}
		}()
	}
	if s.telegramBot != nil {
		go func() {
			if err := s.telegramBot.Run(ctx); err != nil {
				log.Printf("Telegram bot error: %v", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:    s.config.ServerAddr,
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("arenabot server listening on %s", s.config.ServerAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	// Abort live sessions and flush before closing the store.
	s.engine.Stop()
	return s.store.Close()
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/battles", s.handleListBattles)
		r.Get("/battles/{id}", s.handleGetBattle)
		r.Get("/battles/{id}/events", s.handleBattleEvents)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{id}/events", s.handleSessionEvents)
	})

	// Health check.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

// --- Handlers ---

func (s *Server) handleListBattles(w http.ResponseWriter, r *http.Request) {
	channel := model.ChannelID(r.URL.Query().Get("channel"))
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	battles, err := s.store.ListBattles(r.Context(), channel, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list battles")
		log.Printf("Error listing battles: %v", err)
		return
	}
	if battles == nil {
		battles = []*model.BattleResult{}
	}
	writeJSON(w, http.StatusOK, battles)
}

func (s *Server) handleGetBattle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	battle, err := s.store.GetBattle(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "battle not found")
		return
	}
	writeJSON(w, http.StatusOK, battle)
}

// handleBattleEvents returns the persisted event trail of a battle. Session
// and battle share the same ID.
func (s *Server) handleBattleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	events, err := s.store.ListEvents(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list events")
		log.Printf("Error listing events: %v", err)
		return
	}
	if events == nil {
		events = []store.BattleEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.LiveSessions())
}

// handleSessionEvents streams a live session's events over SSE.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch := s.engine.Bus().Subscribe(id)
	defer s.engine.Bus().Unsubscribe(id, ch)

	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, event)
			flusher.Flush()
		}
	}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeSSE(w http.ResponseWriter, event engine.Event) {
	data, _ := json.Marshal(event)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, string(data))
}
