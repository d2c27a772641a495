// Package server exposes the matching pipeline over HTTP for the web
// console. The CLI remains the primary surface; this API mirrors its
// operations.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/meridian-group/lpmatch-cli/internal/config"
	"github.com/meridian-group/lpmatch-cli/internal/factstore"
	"github.com/meridian-group/lpmatch-cli/internal/model"
	"github.com/meridian-group/lpmatch-cli/internal/pitch"
	"github.com/meridian-group/lpmatch-cli/internal/preference"
	"github.com/meridian-group/lpmatch-cli/internal/quota"
	"github.com/meridian-group/lpmatch-cli/internal/scoring"
	"github.com/meridian-group/lpmatch-cli/internal/store"
)

// Server wires the pipeline components behind HTTP handlers.
type Server struct {
	cfg     config.Config
	facts   factstore.FactStore
	ranker  *scoring.Ranker
	synth   *pitch.Synthesizer
	learner *preference.Learner
	records store.Store
}

// New creates a Server over the given components.
func New(cfg config.Config, facts factstore.FactStore, ranker *scoring.Ranker, synth *pitch.Synthesizer, learner *preference.Learner, records store.Store) *Server {
	return &Server{
		cfg:     cfg,
		facts:   facts,
		ranker:  ranker,
		synth:   synth,
		learner: learner,
		records: records,
	}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/funds/{fundID}/matches", s.handleMatches)
	r.Post("/matches/{matchID}/pitch", s.handlePitch)
	r.Post("/artifacts/{artifactID}/feedback", s.handleFeedback)

	return r
}

// ListenAndServe runs the HTTP server until the context is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("server: listening", zap.Int("port", s.cfg.Server.Port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMatches ranks the LP universe for a fund. Filters and pagination
// come from query parameters; the weight vector reflects the owning org's
// learned preferences.
func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	fundID := chi.URLParam(r, "fundID")

	fund, err := s.facts.Fund(ctx, fundID)
	if err != nil {
		if errors.Is(err, factstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "fund not found")
			return
		}
		s.internalError(w, "load fund", err)
		return
	}

	weights := scoring.DefaultWeights(s.cfg.Scoring)
	if s.learner != nil {
		adjusted, err := s.learner.WeightsFor(ctx, fund.OrgID, weights)
		if err != nil {
			s.internalError(w, "resolve weights", err)
			return
		}
		weights = adjusted
	}

	q := r.URL.Query()
	filter := scoring.RankFilter{}
	if v := q.Get("min_score"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 100 {
			writeError(w, http.StatusBadRequest, "min_score must be an integer in 0..100")
			return
		}
		filter.MinScore = n
	}
	for _, v := range q["lp_type"] {
		filter.LPTypes = append(filter.LPTypes, model.LPType(v))
	}

	pageSize := 0
	if v := q.Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "page_size must be a positive integer")
			return
		}
		pageSize = n
	}

	page, err := s.ranker.Rank(ctx, fundID, weights, filter, q.Get("cursor"), pageSize)
	if err != nil {
		if errors.Is(err, scoring.ErrBadCursor) {
			writeError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		s.internalError(w, "rank", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type pitchRequest struct {
	Type        model.ArtifactType `json:"type"`
	Tone        string             `json:"tone,omitempty"`
	DetailLevel string             `json:"detail_level,omitempty"`
}

// handlePitch produces a final artifact for a previously computed match.
func (s *Server) handlePitch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	matchID := chi.URLParam(r, "matchID")

	var req pitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Type.RequiredSections()) == 0 {
		writeError(w, http.StatusBadRequest, "unknown artifact type")
		return
	}

	score, err := s.records.MatchScore(ctx, matchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "match not found")
			return
		}
		s.internalError(w, "load match", err)
		return
	}
	if score.InsufficientData {
		writeError(w, http.StatusConflict, "match has insufficient data for pitch generation")
		return
	}

	fund, err := s.facts.Fund(ctx, score.FundID)
	if err != nil {
		s.internalError(w, "load fund", err)
		return
	}
	lp, err := s.facts.LP(ctx, score.LPID)
	if err != nil {
		s.internalError(w, "load lp", err)
		return
	}

	tone := req.Tone
	if tone == "" && s.learner != nil {
		prefs, err := s.learner.Active(ctx, fund.OrgID)
		if err == nil {
			for _, p := range prefs {
				if p.Kind == model.PrefTone {
					tone = p.Value
					break
				}
			}
		}
	}

	art, err := s.synth.Synthesize(ctx, pitch.SynthesizeRequest{
		MatchID:      matchID,
		OrgID:        fund.OrgID,
		Fund:         fund,
		LP:           lp,
		Type:         req.Type,
		Tone:         tone,
		DetailLevel:  req.DetailLevel,
		MatchFactors: score.Factors,
		Stale:        score.Stale,
	})
	if err != nil {
		var qe *quota.ExceededError
		if errors.As(err, &qe) {
			w.Header().Set("Retry-After", strconv.Itoa(int(qe.RetryAfter.Seconds())+1))
			writeError(w, http.StatusTooManyRequests, "org quota exceeded")
			return
		}
		s.internalError(w, "synthesize", err)
		return
	}
	writeJSON(w, http.StatusOK, art)
}

type feedbackRequest struct {
	OrgID   string         `json:"org_id"`
	Action  string         `json:"action"`
	LPID    string         `json:"lp_id,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// handleFeedback records a GP interaction against an artifact and feeds the
// preference learner.
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	artifactID := chi.URLParam(r, "artifactID")

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OrgID == "" {
		writeError(w, http.StatusBadRequest, "org_id is required")
		return
	}
	action := model.InteractionAction(req.Action)
	switch action {
	case model.ActionShortlist, model.ActionDismiss, model.ActionEdit, model.ActionFeedback:
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
		return
	}

	if _, err := s.records.Artifact(ctx, artifactID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "artifact not found")
			return
		}
		s.internalError(w, "load artifact", err)
		return
	}

	it := model.Interaction{
		OrgID:   req.OrgID,
		Action:  action,
		LPID:    req.LPID,
		Reason:  req.Reason,
		Payload: req.Payload,
	}
	if req.LPID != "" {
		if lp, err := s.facts.LP(ctx, req.LPID); err == nil {
			it.LPType = lp.Type
		}
	}

	if err := s.learner.Record(ctx, it); err != nil {
		s.internalError(w, "record interaction", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	zap.L().Error("server: "+op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// requestLogger logs each request with latency and status.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
