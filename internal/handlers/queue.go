// internal/handlers/queue.go
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ludoroyale/server/internal/database"
	"github.com/ludoroyale/server/internal/models"
)

type enqueueRequest struct {
	Variant    models.Variant `json:"variant"`
	GameTypeID string         `json:"game_type_id"`
	MaxPlayers int            `json:"max_players"`
	MinPlayers int            `json:"min_players"`
	EntryFee   int64          `json:"entry_fee"`
}

// EnqueueHandler puts the user in the matchmaking queue. Skill fields come
// from the user record, not the client.
func (s *Server) EnqueueHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := authUserID(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	u, err := database.GetUserByID(r.Context(), userID)
	if err != nil {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}
	if req.MaxPlayers < 2 || req.MaxPlayers > 4 {
		req.MaxPlayers = 4
	}
	if req.MinPlayers < 2 || req.MinPlayers > req.MaxPlayers {
		req.MinPlayers = 2
	}

	entry := models.MatchmakingEntry{
		UserID:           userID,
		SkillRating:      u.SkillRating,
		GamesPlayed:      u.GamesPlayed,
		RecentPerfScore:  u.RecentPerfScore,
		PreferredVariant: req.Variant,
		Region:           u.Region,
		GameTypeID:       req.GameTypeID,
		MaxPlayers:       req.MaxPlayers,
		MinPlayers:       req.MinPlayers,
		EntryFee:         req.EntryFee,
	}
	if err := s.Queue.Enqueue(r.Context(), entry); err != nil {
		s.writeEngineError(w, err)
		return
	}

	// One immediate attempt so a waiting partner doesn't sit out a full
	// poll interval.
	if session := s.Queue.TryMatch(r.Context(), userID); session != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"matched": true,
			"session": session,
		})
		return
	}

	pos, _ := s.Queue.PositionOf(userID)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"matched":  false,
		"position": pos,
	})
}

func (s *Server) DequeueHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := authUserID(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	removed := s.Queue.Dequeue(r.Context(), userID)
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

// QueueStatusHandler reports aggregate queue statistics plus, when the
// requester is queued, their own position.
func (s *Server) QueueStatusHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"statistics": s.Queue.Statistics(),
	}
	if userID, err := authUserID(r); err == nil {
		if pos, ok := s.Queue.PositionOf(userID); ok {
			resp["position"] = pos
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
