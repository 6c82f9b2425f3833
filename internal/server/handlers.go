package server

import (
	"context"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/velstad/handmill/internal/database"
	"github.com/velstad/handmill/internal/etl/materialize"
	"github.com/velstad/handmill/internal/progress"
	"github.com/velstad/handmill/internal/queries"
)

// handleHealth reports liveness and whether the store is queryable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ready := false
	if s.queries != nil {
		ready = s.queries.IsReady(r.Context())
	}
	s.writeJSON(w, map[string]interface{}{
		"status":         "ok",
		"database_ready": ready,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.queries.Dashboard(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("Dashboard query failed")
		writeError(w, http.StatusServiceUnavailable, "summary not available")
		return
	}
	s.writeJSON(w, d)
}

func (s *Server) handleTopPlayers(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 25)
	players, err := s.queries.TopPlayers(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Top players query failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if players == nil {
		players = []queries.TopPlayer{}
	}
	s.writeJSON(w, map[string]interface{}{"players": players, "count": len(players)})
}

func (s *Server) handlePlayerStats(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "playerID")
	stats, err := s.queries.PlayerStats(r.Context(), playerID)
	if err != nil {
		s.log.Error().Err(err).Str("player", playerID).Msg("Player stats query failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if stats == nil {
		writeError(w, http.StatusNotFound, "player not found")
		return
	}
	s.writeJSON(w, stats)
}

func (s *Server) handlePlayerHands(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "playerID")
	limit := queryInt(r, "limit", 20)
	hands, err := s.queries.RecentHands(r.Context(), playerID, limit)
	if err != nil {
		s.log.Error().Err(err).Str("player", playerID).Msg("Recent hands query failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if hands == nil {
		hands = []queries.RecentHand{}
	}
	s.writeJSON(w, map[string]interface{}{"hands": hands, "count": len(hands)})
}

func (s *Server) handleHandSearch(w http.ResponseWriter, r *http.Request) {
	f := queries.HandSearch{
		Player:   r.URL.Query().Get("player"),
		MinPotBB: queryFloat(r, "min_pot_bb", 0),
		MaxPotBB: queryFloat(r, "max_pot_bb", 0),
		Street:   r.URL.Query().Get("street"),
		Position: r.URL.Query().Get("position"),
		GameType: r.URL.Query().Get("game_type"),
		Limit:    queryInt(r, "limit", 100),
	}
	rows, err := s.queries.SearchHands(r.Context(), f)
	if err != nil {
		s.log.Error().Err(err).Msg("Hand search failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if rows == nil {
		rows = []queries.HandSearchRow{}
	}
	s.writeJSON(w, map[string]interface{}{"results": rows, "count": len(rows)})
}

func (s *Server) handleHandDetail(w http.ResponseWriter, r *http.Request) {
	handID := chi.URLParam(r, "handID")
	detail, err := s.queries.HandDetail(r.Context(), handID)
	if err != nil {
		s.log.Error().Err(err).Str("hand", handID).Msg("Hand detail query failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if detail == nil {
		writeError(w, http.StatusNotFound, "hand not found")
		return
	}
	s.writeJSON(w, detail)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	playerID := r.URL.Query().Get("player")
	if playerID == "" {
		writeError(w, http.StatusBadRequest, "player parameter required")
		return
	}
	comparedID := r.URL.Query().Get("compared")

	f := queries.SegmentFilter{
		Street:      r.URL.Query().Get("street"),
		Position:    r.URL.Query().Get("position"),
		ActionLabel: r.URL.Query().Get("action_label"),
		PotType:     r.URL.Query().Get("pot_type"),
		SizeCat:     r.URL.Query().Get("size_cat"),
		Intention:   r.URL.Query().Get("intention"),
		IPStatus:    r.URL.Query().Get("ip_status"),
		PlayersLeft: queryIntPtr(r, "players_left"),
		MinJScore:   queryFloatPtr(r, "min_j_score"),
		MaxJScore:   queryFloatPtr(r, "max_j_score"),
		MinPreflop:  queryFloatPtr(r, "min_preflop_score"),
		MaxPreflop:  queryFloatPtr(r, "max_preflop_score"),
		MinPostflop: queryFloatPtr(r, "min_postflop_score"),
		MaxPostflop: queryFloatPtr(r, "max_postflop_score"),
	}

	cmp, err := s.queries.SegmentedStats(r.Context(), playerID, comparedID, f)
	if err != nil {
		s.log.Error().Err(err).Str("player", playerID).Msg("Comparison query failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	s.writeJSON(w, cmp)
}

func (s *Server) handleBettingVsStrength(w http.ResponseWriter, r *http.Request) {
	f := queries.ScatterFilter{
		PlayerID: r.URL.Query().Get("player"),
		Streets:  queryList(r, "streets"),
		Labels:   queryList(r, "labels"),
		Limit:    queryInt(r, "limit", 0),
	}
	points, err := s.queries.BettingVsStrength(r.Context(), f)
	if err != nil {
		s.log.Error().Err(err).Msg("Betting vs strength query failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if points == nil {
		points = []queries.ScatterPoint{}
	}
	s.writeJSON(w, map[string]interface{}{"points": points, "count": len(points)})
}

func (s *Server) handleFilters(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.queries.AvailableFilters(r.Context()))
}

// handleMaterialize kicks off a summary rebuild. A held build lock means
// one is already running, so the request just reports that.
func (s *Server) handleMaterialize(w http.ResponseWriter, r *http.Request) {
	if s.env == nil {
		writeError(w, http.StatusServiceUnavailable, "materialize not available")
		return
	}

	if path := s.db.Path(); path != "" && path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if database.LockHeld(filepath.Dir(path), database.MaterializeLockName) {
			s.writeJSON(w, map[string]string{"status": "materializing"})
			return
		}
	}

	env := s.env
	go func() {
		env.Publish(progress.Event{Phase: "materialize", Message: "rebuild started"})
		if err := materialize.New().Run(context.Background(), env); err != nil {
			s.log.Error().Err(err).Msg("Background materialize failed")
			env.Publish(progress.Event{Phase: "materialize", Message: "rebuild failed"})
			return
		}
		env.Publish(progress.Event{Phase: "idle", Message: "rebuild complete"})
	}()

	s.writeJSON(w, map[string]string{"status": "started"})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func queryIntPtr(r *http.Request, key string) *int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &n
}

func queryFloat(r *http.Request, key string, def float64) float64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func queryFloatPtr(r *http.Request, key string) *float64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}

func queryList(r *http.Request, key string) []string {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
