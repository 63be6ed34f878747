package http

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"

	"finrank/internal/log"
)

func (s *Server) handleGetRanking(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ranking, err := s.ranking.GetUserRanking(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rankingResponse(ranking))
}

func (s *Server) handleGlobalLeaderboard(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	entries, err := s.ranking.GetGlobalLeaderboard(r.Context(), page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, leaderboardResponse{
		Entries: entriesResponse(entries),
		Limit:   page.Limit,
		Offset:  page.Offset,
	})
}

func (s *Server) handleFriendsLeaderboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := s.ranking.GetFriendsLeaderboard(r.Context(), sanitizeInput(q.Get("user_id")), parseFriends(q))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, leaderboardResponse{Entries: entriesResponse(entries)})
}

func (s *Server) handleCategoryLeaderboards(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntParam(r.URL.Query(), "limit", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	boards, err := s.ranking.GetCategoryLeaderboards(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]categoryLeaderboardResponse, 0, len(boards))
	for _, b := range boards {
		out = append(out, categoryLeaderboardResponse{Category: string(b.Category), Entries: entriesResponse(b.Entries)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": out})
}

func (s *Server) handleUserBadges(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	badges, err := s.ranking.GetUserBadges(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "badges": badgesResponse(badges)})
}

func (s *Server) handleUserAchievements(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	achievements, err := s.ranking.GetUserAchievements(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "achievements": achievementsResponse(achievements)})
}

func (s *Server) handleUserSeasons(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	standings, err := s.ranking.GetUserSeasonHistory(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "seasons": standingsResponse(standings)})
}

func (s *Server) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	state, err := s.ranking.RecalculateUserScore(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Recalculation requested",
		log.FieldUserID, userID, log.FieldOperation, log.OpRecalculate)
	writeJSON(w, http.StatusOK, stateResponse(state))
}

// handleIngestEvent publishes the event to the queue when a publisher is
// configured and applies it in-process otherwise.
func (s *Server) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := decodeEvent(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	if s.publisher != nil {
		if err := s.publisher.PublishScoreEvent(r.Context(), ev); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, eventResponse{EventID: ev.ID, Queued: true})
		return
	}

	res, err := s.ranking.ApplyEvent(r.Context(), ev)
	if err != nil {
		writeError(w, r, err)
		return
	}
	state := stateResponse(res.State)
	writeJSON(w, http.StatusOK, eventResponse{
		EventID:               ev.ID,
		Points:                res.Points,
		Absorbed:              res.Absorbed,
		NewBadges:             res.NewBadges,
		CompletedAchievements: res.CompletedAchievements,
		State:                 &state,
	})
}

func (s *Server) handleCurrentSeason(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toSeasonResponse(s.ranking.CurrentSeason()))
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady runs every readiness check and reports 503 if any fails.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			log.FromContext(ctx).WarnContext(ctx, "Readiness check failed", "check", name, log.FieldError, err.Error())
			continue
		}
		results[name] = "ok"
	}
	writeJSON(w, status, map[string]any{"ready": status == http.StatusOK, "checks": results})
}
