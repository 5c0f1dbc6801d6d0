package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aura-supply/recon-cli/internal/agent"
	"github.com/aura-supply/recon-cli/internal/model"
	"github.com/aura-supply/recon-cli/internal/monitoring"
	"github.com/aura-supply/recon-cli/internal/store"
	anthropicpkg "github.com/aura-supply/recon-cli/pkg/anthropic"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the inventory query API",
	Long:  "Serves the fact store and safety gate over HTTP so agents and dashboards can query reconciled inventory without touching the database.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		api := &apiServer{
			store:     st,
			gate:      agent.NewGate(st, cfg.Thresholds),
			collector: monitoring.NewCollector(st, cfg.Thresholds),
			alerter:   monitoring.NewAlerter(cfg.Monitoring),
			lookback:  cfg.Monitoring.LookbackWindowHours,
		}
		if cfg.Anthropic.Key != "" {
			api.advisor = agent.NewAdvisor(anthropicpkg.NewClient(cfg.Anthropic.Key), cfg.Anthropic)
		}

		// Background alert checks share the server's lifetime.
		go monitoring.NewChecker(api.collector, api.alerter, cfg.Monitoring).Run(ctx)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: api.routes(),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down query api")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting query api", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// apiServer exposes read-only queries over the fact store plus the gate.
type apiServer struct {
	store     store.Store
	gate      *agent.Gate
	advisor   *agent.Advisor
	collector *monitoring.Collector
	alerter   *monitoring.Alerter
	lookback  int
}

func (s *apiServer) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/query", s.handleQuery)
		r.Post("/ask", s.handleAsk)
		r.Get("/facts", s.handleFacts)
		r.Get("/facts/{partID}", s.handleFact)
		r.Get("/status", s.handleStatus)
	})
	return r
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleQuery runs the safety gate for one part. A missing part is a
// BLOCKED verdict with status 200; only store failures are 500s.
func (s *apiServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PartID   string `json:"part_id"`
		Question string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PartID == "" {
		writeError(w, http.StatusBadRequest, "part_id is required")
		return
	}

	verdict, err := s.gate.Evaluate(r.Context(), req.PartID, req.Question)
	if err != nil {
		zap.L().Error("query evaluate failed", zap.String("part_id", req.PartID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "evaluation failed")
		return
	}
	writeJSON(w, http.StatusOK, verdict)
}

func (s *apiServer) handleAsk(w http.ResponseWriter, r *http.Request) {
	if s.advisor == nil {
		writeError(w, http.StatusServiceUnavailable, "ask requires an anthropic api key")
		return
	}

	var req struct {
		PartID   string `json:"part_id"`
		Question string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PartID == "" {
		writeError(w, http.StatusBadRequest, "part_id is required")
		return
	}

	verdict, err := s.gate.Evaluate(r.Context(), req.PartID, req.Question)
	if err != nil {
		zap.L().Error("ask evaluate failed", zap.String("part_id", req.PartID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "evaluation failed")
		return
	}

	answer, err := s.advisor.Answer(r.Context(), req.Question, verdict)
	if err != nil {
		zap.L().Error("ask answer failed", zap.String("part_id", req.PartID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "advisor failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"answer":  answer,
		"verdict": verdict,
	})
}

func (s *apiServer) handleFacts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.FactFilter{
		Urgency:    model.ReorderUrgency(q.Get("urgency")),
		Confidence: model.ConfidenceLevel(q.Get("confidence")),
		Limit:      100,
	}

	if v := q.Get("low_stock"); v != "" {
		below, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "low_stock must be an integer")
			return
		}
		filter.LowStockBelow = &below
	}
	if v := q.Get("warnings"); v != "" {
		flagged, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "warnings must be a boolean")
			return
		}
		filter.OnlyFlagged = flagged
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		filter.Limit = limit
	}

	facts, err := s.store.ListOpenFacts(r.Context(), filter)
	if err != nil {
		zap.L().Error("facts list failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "facts query failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(facts),
		"facts": facts,
	})
}

func (s *apiServer) handleFact(w http.ResponseWriter, r *http.Request) {
	partID := chi.URLParam(r, "partID")

	fact, err := s.store.GetOpenFact(r.Context(), partID)
	if err != nil {
		if errors.Is(err, store.ErrFactNotFound) {
			writeError(w, http.StatusNotFound, "no open fact for part "+partID)
			return
		}
		zap.L().Error("fact lookup failed", zap.String("part_id", partID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "fact lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, fact)
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	lookback := s.lookback
	if v := r.URL.Query().Get("lookback"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil || hours <= 0 {
			writeError(w, http.StatusBadRequest, "lookback must be a positive integer")
			return
		}
		lookback = hours
	}

	snap, err := s.collector.Collect(r.Context(), lookback)
	if err != nil {
		zap.L().Error("status collect failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "metrics collection failed")
		return
	}

	writeJSON(w, http.StatusOK, statusReport{
		Snapshot: snap,
		Alerts:   s.alerter.Evaluate(snap),
	})
}

// requestLogger logs one line per request with status and latency.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
