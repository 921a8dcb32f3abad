// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ludoroyale/server/internal/events"
)

// Rdb is the global Redis client. Connect it once at application startup.
var Rdb *redis.Client

// DefaultStreamName is the Redis list (queue) name for session event logs.
var DefaultStreamName = "ludo_session_events"

// SessionEventRecord is the persisted shape of one session event. EventIndex
// is a per-session sequence number so consumers can detect gaps and reorder.
type SessionEventRecord struct {
	SessionID    uuid.UUID              `json:"session_id"`
	EventIndex   int64                  `json:"event_index"`
	EventType    string                 `json:"event_type"`
	EventPayload map[string]interface{} `json:"event_payload"`
	Timestamp    int64                  `json:"timestamp"`
}

// ConnectRedis initializes the global Redis client with environment variables:
//   - REDIS_ADDR (default "localhost:6379")
//   - REDIS_DB (optional, default 0)
func ConnectRedis() error {
	addr := getEnv("REDIS_ADDR", "localhost:6379")
	dbIdx := getEnvInt("REDIS_DB", 0)

	Rdb = redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   dbIdx,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := Rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return nil
}

// EventSink is an events.Sink that appends every session event to a Redis
// list for replay and audit. Publishes are enqueued onto a buffered channel
// and drained by a single goroutine, so event order per session is the
// publish order and the engine never blocks on the network. Tick events are
// dropped first when the buffer fills; anything else blocks until there is
// room.
type EventSink struct {
	client *redis.Client
	stream string
	log    *logrus.Logger

	seq map[uuid.UUID]*int64 // touched only by the drain goroutine

	in   chan SessionEventRecord
	done chan struct{}
}

// NewEventSink starts the drain goroutine. Call Close to flush and stop it.
func NewEventSink(client *redis.Client, log *logrus.Logger) *EventSink {
	if log == nil {
		log = logrus.New()
	}
	s := &EventSink{
		client: client,
		stream: getEnv("SESSION_EVENT_STREAM", DefaultStreamName),
		log:    log,
		seq:    make(map[uuid.UUID]*int64),
		in:     make(chan SessionEventRecord, 1024),
		done:   make(chan struct{}),
	}
	go s.drain()
	return s
}

// Publish implements events.Sink.
func (s *EventSink) Publish(sessionID uuid.UUID, eventType events.Type, payload map[string]interface{}) {
	rec := SessionEventRecord{
		SessionID:    sessionID,
		EventType:    string(eventType),
		EventPayload: payload,
		Timestamp:    time.Now().UnixMilli(),
	}

	if eventType == events.EventTurnTimeTick {
		// Ticks are advisory; never let them stall the engine.
		select {
		case s.in <- rec:
		default:
		}
		return
	}

	select {
	case s.in <- rec:
	case <-s.done:
	}
}

func (s *EventSink) drain() {
	ctx := context.Background()
	for rec := range s.in {
		rec.EventIndex = s.nextIndex(rec.SessionID)
		data, err := json.Marshal(rec)
		if err != nil {
			s.log.Warnf("event sink: marshal failed for session %v: %v", rec.SessionID, err)
			continue
		}
		if err := s.client.RPush(ctx, s.stream, data).Err(); err != nil {
			s.log.Warnf("event sink: RPush to '%s' failed: %v", s.stream, err)
		}
	}
	close(s.done)
}

// nextIndex is only called from the drain goroutine, so no locking is needed.
func (s *EventSink) nextIndex(sessionID uuid.UUID) int64 {
	n, ok := s.seq[sessionID]
	if !ok {
		var v int64
		n = &v
		s.seq[sessionID] = n
	}
	*n++
	return *n
}

// Close stops accepting events and waits for the queue to flush.
func (s *EventSink) Close() {
	close(s.in)
	<-s.done
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
