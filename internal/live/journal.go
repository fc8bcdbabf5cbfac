package live

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/samer-khoury/mizan/models"
)

// turnEnvelope is the wire form of a journaled turn commit.
type turnEnvelope struct {
	EventID    string                   `json:"event_id"`
	ChannelID  string                   `json:"channel_id"`
	UserID     string                   `json:"user_id"`
	OccurredAt time.Time                `json:"occurred_at"`
	Turn       models.TranscriptionTurn `json:"turn"`
}

// Journal appends committed transcription turns to a Redis stream so voice
// turns survive reconnects and are auditable after the channel closes. It is
// write-only from the channel's point of view.
type Journal struct {
	client *redis.Client
	stream string
}

// NewJournal wraps a shared Redis client. A nil client disables journaling.
func NewJournal(client *redis.Client, stream string) *Journal {
	return &Journal{client: client, stream: stream}
}

// Append records one committed turn. Journal failures are reported but are
// not fatal to the live exchange.
func (j *Journal) Append(ctx context.Context, channelID, userID string, turn models.TranscriptionTurn) error {
	if j == nil || j.client == nil {
		return nil
	}
	env := turnEnvelope{
		EventID:    uuid.NewString(),
		ChannelID:  channelID,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
		Turn:       turn,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal turn envelope: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: j.stream,
		MaxLen: 10000,
		Approx: true,
		Values: map[string]interface{}{"envelope": raw},
	}
	if err := j.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd turn: %w", err)
	}
	return nil
}
