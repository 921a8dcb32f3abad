// internal/handlers/api_server.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/ludoroyale/server/internal/engine"
	"github.com/ludoroyale/server/internal/ledger"
	"github.com/ludoroyale/server/internal/matchmaking"
	"github.com/ludoroyale/server/internal/store"
)

// Server bundles the collaborators every HTTP handler needs.
type Server struct {
	Engine *engine.Engine
	Queue  *matchmaking.Queue
	Hub    *Hub
	Log    *logrus.Logger
}

func NewServer(eng *engine.Engine, queue *matchmaking.Queue, hub *Hub, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.New()
	}
	return &Server{Engine: eng, Queue: queue, Hub: hub, Log: log}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Warnf("failed to write response body: %v", err)
	}
}

// writeEngineError maps the engine's error taxonomy onto HTTP statuses.
// Validation failures are the client's problem; conflicts and missing
// sessions get their own codes; everything else is a 500.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "session not found", http.StatusNotFound)
	case errors.Is(err, engine.ErrRoomFull),
		errors.Is(err, engine.ErrNotJoinable),
		errors.Is(err, engine.ErrBadPassword),
		errors.Is(err, engine.ErrNotSeated),
		errors.Is(err, engine.ErrNotYourTurn),
		errors.Is(err, engine.ErrDiceAlreadyRolled),
		errors.Is(err, engine.ErrDiceNotRolled),
		errors.Is(err, engine.ErrIllegalMove),
		errors.Is(err, engine.ErrNotInProgress):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, engine.ErrAlreadyJoined):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, store.ErrVersionConflict):
		http.Error(w, "concurrent update, retry", http.StatusConflict)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		http.Error(w, "insufficient funds", http.StatusPaymentRequired)
	default:
		s.Log.Errorf("internal error: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
