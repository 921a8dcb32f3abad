// internal/events/events.go
package events

import "github.com/google/uuid"

// Type is an enum-like identifier for session notifications.
type Type string

const (
	EventRoomCreated        Type = "room_created"
	EventPlayerJoined       Type = "player_joined"
	EventPlayerLeft         Type = "player_left"
	EventPlayerReady        Type = "player_ready"
	EventGameStarting       Type = "game_starting" // carries the countdown seconds
	EventGameStarted        Type = "game_started"
	EventDiceRolled         Type = "dice_rolled"
	EventPieceMoved         Type = "piece_moved"
	EventPlayerCaptured     Type = "player_captured"
	EventTurnChanged        Type = "turn_changed"
	EventTurnTimeReset      Type = "turn_time_reset" // bonus turn; the turn did NOT pass
	EventTurnTimeTick       Type = "turn_time_tick"
	EventTurnTimeout        Type = "turn_timeout"
	EventPlayerDisconnected Type = "player_disconnected"
	EventPlayerReconnected  Type = "player_reconnected"
	EventPlayerForfeited    Type = "player_forfeited"
	EventGamePaused         Type = "game_paused"
	EventGameResumed        Type = "game_resumed"
	EventGameCompleted      Type = "game_completed" // carries ranking + settlement summary
)

// Sink receives structured session notifications. The engine publishes
// events for a given session in the order operations were applied;
// implementations must preserve that order. Tick events may be coalesced
// or dropped under load, everything else is never dropped.
type Sink interface {
	Publish(sessionID uuid.UUID, eventType Type, payload map[string]interface{})
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(sessionID uuid.UUID, eventType Type, payload map[string]interface{})

func (f SinkFunc) Publish(sessionID uuid.UUID, eventType Type, payload map[string]interface{}) {
	f(sessionID, eventType, payload)
}

// MultiSink fans one publish out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Publish(sessionID uuid.UUID, eventType Type, payload map[string]interface{}) {
	for _, s := range m {
		s.Publish(sessionID, eventType, payload)
	}
}

// NopSink discards everything. Useful as a default and in tests.
type NopSink struct{}

func (NopSink) Publish(uuid.UUID, Type, map[string]interface{}) {}
