package chat

import (
	"context"
	"fmt"

	"github.com/samer-khoury/mizan/models"
)

// StreamEventType discriminates response-stream events.
type StreamEventType string

const (
	EventChunk    StreamEventType = "chunk"
	EventSources  StreamEventType = "sources"
	EventComplete StreamEventType = "complete"
)

// StreamEvent is one element of an in-order response event sequence.
type StreamEvent struct {
	Type             StreamEventType
	Chunk            string
	Sources          []models.Source
	SuggestedReplies []string
}

// PushFunc receives one event. Returning an error aborts the stream.
type PushFunc func(StreamEvent) error

// StreamSource drives a response stream by pushing events in arrival order.
// It returns after the final event has been pushed, or with the failure that
// ended the stream early.
type StreamSource func(ctx context.Context, push PushFunc) error

// StreamResult reports how a reconciled stream ended.
type StreamResult struct {
	Completed bool
	Content   string
	Type      models.MessageType
	Err       error
}

// StreamToMessage appends an empty model message and reconciles the event
// stream into it:
//
//   - each chunk delta is appended to the message content in arrival order,
//   - a sources event replaces (not merges) the sources field,
//   - the terminal complete event sets suggested replies, classifies the full
//     text and releases the message for no further mutation.
//
// Every event is written through the store before the next one is consumed,
// so concurrent readers observe progressive updates. On failure before
// complete, the partial content is kept and the message is marked error=true
// with the original prompt retained for retry. onUpdate, when non-nil, is
// invoked after each applied event with a copy of the message.
//
// At most one stream may be active per session; a second concurrent send
// returns ErrStreamActive without touching state.
func (e *Engine) StreamToMessage(ctx context.Context, userID, sessionID string, retry models.RetryPrompt, source StreamSource, onUpdate func(models.Message)) (*StreamResult, error) {
	if err := e.beginStream(sessionID); err != nil {
		return nil, err
	}
	defer e.endStream(sessionID)

	sess, err := e.AppendMessage(ctx, userID, sessionID, models.Message{
		Role: models.RoleModel,
		Type: models.MessageStandard,
	})
	if err != nil {
		return nil, err
	}
	targetTS := sess.LastMessage().TS
	e.metrics.StreamsStarted.Inc()

	completed := false
	apply := func(fn func(*models.Message)) error {
		updated, err := e.UpdateMessage(ctx, userID, sessionID, targetTS, fn)
		if err != nil {
			return err
		}
		if onUpdate != nil {
			if msg := updated.MessageByTS(targetTS); msg != nil {
				onUpdate(*msg)
			}
		}
		return nil
	}

	push := func(ev StreamEvent) error {
		if completed {
			return fmt.Errorf("event after complete")
		}
		switch ev.Type {
		case EventChunk:
			e.metrics.ChunksApplied.Inc()
			return apply(func(m *models.Message) { m.Content += ev.Chunk })
		case EventSources:
			sources := ev.Sources
			return apply(func(m *models.Message) { m.Sources = sources })
		case EventComplete:
			completed = true
			replies := ev.SuggestedReplies
			return apply(func(m *models.Message) {
				m.SuggestedReplies = replies
				m.Type = Classify(m.Content)
			})
		default:
			return fmt.Errorf("unknown stream event type %q", ev.Type)
		}
	}

	runErr := source(ctx, push)
	if runErr == nil && !completed {
		runErr = fmt.Errorf("%w: stream ended without completion", models.ErrGeneration)
	}

	if runErr != nil {
		e.metrics.StreamsFailed.Inc()
		e.logger.Printf("stream for session %s failed: %v", sessionID, runErr)
		// Keep the partial content; mark the message retryable. The write must
		// succeed even when no client is still observing the session.
		r := retry
		if _, err := e.UpdateMessage(ctx, userID, sessionID, targetTS, func(m *models.Message) {
			m.Error = true
			m.PromptForRetry = &r
			m.SuggestedReplies = nil
		}); err != nil {
			return nil, err
		}
		return &StreamResult{Completed: false, Err: fmt.Errorf("%w: %v", models.ErrGeneration, runErr)}, nil
	}

	e.metrics.StreamsCompleted.Inc()
	final, err := e.store.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	msg := final.MessageByTS(targetTS)
	if msg == nil {
		return nil, models.ErrMessageNotFound
	}
	if e.index != nil && msg.Content != "" {
		if err := e.index.IndexMessage(final, *msg); err != nil {
			e.logger.Printf("index message %s/%d: %v", sessionID, targetTS, err)
		}
	}
	return &StreamResult{Completed: true, Content: msg.Content, Type: msg.Type}, nil
}

// RemoveForRetry deletes a stale error message ahead of resubmission so
// failed bubbles do not accumulate. It returns the retained prompt. The
// resubmission itself goes through the normal send path.
func (e *Engine) RemoveForRetry(ctx context.Context, userID, sessionID string, ts int64) (*models.RetryPrompt, error) {
	sess, err := e.store.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	msg := sess.MessageByTS(ts)
	if msg == nil {
		return nil, models.ErrMessageNotFound
	}
	if !msg.Error || msg.PromptForRetry == nil {
		return nil, fmt.Errorf("message ts=%d is not retryable", ts)
	}
	prompt := *msg.PromptForRetry
	if _, err := e.DeleteMessage(ctx, userID, sessionID, ts); err != nil {
		return nil, err
	}
	return &prompt, nil
}
