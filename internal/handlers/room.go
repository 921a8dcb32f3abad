// internal/handlers/room.go
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/ludoroyale/server/internal/models"
)

type createRoomRequest struct {
	Variant           models.Variant `json:"variant"`
	MaxPlayers        int            `json:"max_players"`
	MinPlayers        int            `json:"min_players"`
	EntryFee          int64          `json:"entry_fee"`
	TurnTimeLimitSec  int            `json:"turn_time_limit_sec"`
	IsPrivate         bool           `json:"is_private"`
	Password          string         `json:"password"`
	GameTypeID        string         `json:"game_type_id"`
	PointThreshold    int            `json:"point_threshold"`
	QuickGameClockSec int            `json:"quick_game_clock_sec"`
}

func (s *Server) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := authUserID(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	session, err := s.Engine.CreateSession(r.Context(), userID, models.SessionConfig{
		Variant:           req.Variant,
		MaxPlayers:        req.MaxPlayers,
		MinPlayers:        req.MinPlayers,
		EntryFee:          req.EntryFee,
		TurnTimeLimitSec:  req.TurnTimeLimitSec,
		IsPrivate:         req.IsPrivate,
		Password:          req.Password,
		GameTypeID:        req.GameTypeID,
		PointThreshold:    req.PointThreshold,
		QuickGameClockSec: req.QuickGameClockSec,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

type joinRoomRequest struct {
	RoomCode string `json:"room_code"`
	Password string `json:"password"`
}

func (s *Server) JoinRoomHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := authUserID(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req joinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	session, err := s.Engine.Store().LoadByCode(r.Context(), req.RoomCode)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if err := s.Engine.Join(r.Context(), session.ID, userID, req.Password); err != nil {
		s.writeEngineError(w, err)
		return
	}
	session, err = s.Engine.Store().Load(r.Context(), session.ID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// GetRoomHandler returns a session snapshot by id (?id=) or room code
// (?code=).
func (s *Server) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	if code := r.URL.Query().Get("code"); code != "" {
		session, err := s.Engine.Store().LoadByCode(r.Context(), code)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
		return
	}
	id, err := uuid.Parse(r.URL.Query().Get("id"))
	if err != nil {
		http.Error(w, "missing or invalid id", http.StatusBadRequest)
		return
	}
	session, err := s.Engine.Store().Load(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

type sessionActionRequest struct {
	SessionID uuid.UUID `json:"session_id"`
	Ready     bool      `json:"ready"`
	PieceIdx  int       `json:"piece_index"`
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := authUserID(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req sessionActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if err := s.Engine.SetReady(r.Context(), req.SessionID, userID, req.Ready); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) RollHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := authUserID(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req sessionActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	dice, err := s.Engine.RollDice(r.Context(), req.SessionID, userID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"dice_value": dice})
}

func (s *Server) MoveHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := authUserID(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req sessionActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if err := s.Engine.MovePiece(r.Context(), req.SessionID, userID, req.PieceIdx); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) LeaveHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := authUserID(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req sessionActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if err := s.Engine.Disconnect(r.Context(), req.SessionID, userID); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
