package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samer-khoury/mizan/internal/telemetry"
	"github.com/samer-khoury/mizan/models"
)

// ErrStreamActive is returned when a send is attempted while another stream
// is still mutating the same session.
var ErrStreamActive = errors.New("a response stream is already active for this session")

const (
	greetingOnboarding = "Welcome to Mizan, your legal assistant. Before we begin, may I have your name?"
	greetingKnown      = "Welcome back, %s. How can I assist you with your legal matter today?"
)

// Options tunes the engine.
type Options struct {
	TitleMaxChars int
	DefaultTitle  string
	Logger        *log.Logger
	Metrics       *telemetry.Metrics
	// Now is the timestamp source, overridable in tests.
	Now func() time.Time
}

// Engine owns every mutation of session state. Handlers never write to the
// Store directly.
type Engine struct {
	store   Store
	index   *SearchIndex
	logger  *log.Logger
	metrics *telemetry.Metrics
	now     func() time.Time

	titleMax     int
	defaultTitle string

	mu     sync.Mutex
	active map[string]bool // sessionID -> stream in flight
}

// NewEngine builds an engine over the given store. The search index may be
// nil when cross-session search is disabled.
func NewEngine(store Store, index *SearchIndex, opts Options) *Engine {
	if opts.TitleMaxChars <= 0 {
		opts.TitleMaxChars = 40
	}
	if opts.DefaultTitle == "" {
		opts.DefaultTitle = "New Consultation"
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[CHAT] ", log.LstdFlags)
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		store:        store,
		index:        index,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		now:          opts.Now,
		titleMax:     opts.TitleMaxChars,
		defaultTitle: opts.DefaultTitle,
		active:       make(map[string]bool),
	}
}

// DefaultTitle returns the placeholder title new sessions carry until the
// first user message names them.
func (e *Engine) DefaultTitle() string { return e.defaultTitle }

// Store exposes the underlying store for read paths.
func (e *Engine) Store() Store { return e.store }

// CreateSession seeds a new session with the initial greeting, prepends it to
// the user's order list and points the current-session pointer at it. When
// userName is empty the greeting asks for a name and the session enters
// onboarding.
func (e *Engine) CreateSession(ctx context.Context, userID, userName string, meta models.SessionMeta) (*models.Session, error) {
	if meta.Persona == "" {
		meta.Persona = models.PersonaDefault
	}
	greeting := greetingOnboarding
	if userName != "" {
		greeting = fmt.Sprintf(greetingKnown, userName)
		meta.NeedsOnboarding = false
	} else {
		meta.NeedsOnboarding = true
	}

	now := e.now()
	sess := &models.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     e.defaultTitle,
		CreatedAt: now,
		Meta:      meta,
		Messages: []models.Message{{
			Role:    models.RoleModel,
			Content: greeting,
			TS:      now.UnixMilli(),
			Type:    models.MessageStandard,
		}},
	}
	if err := e.store.Put(ctx, sess); err != nil {
		return nil, err
	}

	order, err := e.store.Order(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := e.store.SaveOrder(ctx, userID, append([]string{sess.ID}, order...)); err != nil {
		return nil, err
	}
	if err := e.store.SetCurrent(ctx, userID, sess.ID); err != nil {
		return nil, err
	}
	return sess, nil
}

// stampTS assigns a creation timestamp that is unique within the session.
// Millisecond collisions (rapid appends, frozen test clocks) bump past the
// current maximum.
func stampTS(sess *models.Session, now time.Time) int64 {
	ts := now.UnixMilli()
	for _, m := range sess.Messages {
		if m.TS >= ts {
			ts = m.TS + 1
		}
	}
	return ts
}

// AppendMessage stamps and appends a message. When the new message is from
// the user and the previous last message is a model message, that message's
// suggested replies are cleared (at most one live set at a time). The first
// non-onboarding user message names a still-untitled session. Returns
// models.ErrSessionNotFound when the session id is unknown; callers treat
// that as a no-op.
func (e *Engine) AppendMessage(ctx context.Context, userID, sessionID string, msg models.Message) (*models.Session, error) {
	sess, err := e.store.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	msg.TS = stampTS(sess, e.now())
	if msg.Type == "" {
		msg.Type = models.MessageStandard
	}

	if msg.Role == models.RoleUser {
		if last := sess.LastMessage(); last != nil && last.Role == models.RoleModel {
			last.SuggestedReplies = nil
		}
		if sess.Title == e.defaultTitle && !sess.Meta.NeedsOnboarding {
			sess.Title = deriveTitle(msg.Content, e.titleMax)
		}
	}

	sess.Messages = append(sess.Messages, msg)
	if err := e.store.Put(ctx, sess); err != nil {
		return nil, err
	}
	if e.index != nil && msg.Content != "" {
		if err := e.index.IndexMessage(sess, msg); err != nil {
			e.logger.Printf("index message %s/%d: %v", sessionID, msg.TS, err)
		}
	}
	return sess, nil
}

// UpdateMessage applies fn to the message identified by ts and persists the
// session, making the mutation visible to concurrent readers before
// returning.
func (e *Engine) UpdateMessage(ctx context.Context, userID, sessionID string, ts int64, fn func(*models.Message)) (*models.Session, error) {
	sess, err := e.store.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	msg := sess.MessageByTS(ts)
	if msg == nil {
		return nil, models.ErrMessageNotFound
	}
	fn(msg)
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if err := e.store.Put(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// DeleteMessage removes the message identified by ts. Used for auth-prompt
// resolution and for discarding a stale error bubble before retry.
func (e *Engine) DeleteMessage(ctx context.Context, userID, sessionID string, ts int64) (*models.Session, error) {
	sess, err := e.store.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	for i := range sess.Messages {
		if sess.Messages[i].TS == ts {
			sess.Messages = append(sess.Messages[:i], sess.Messages[i+1:]...)
			if err := e.store.Put(ctx, sess); err != nil {
				return nil, err
			}
			return sess, nil
		}
	}
	return nil, models.ErrMessageNotFound
}

// ClearAll destroys every session of the user atomically from the caller's
// point of view. Idempotent.
func (e *Engine) ClearAll(ctx context.Context, userID string) error {
	return e.store.ClearAll(ctx, userID)
}

// deriveTitle truncates the first user message to the title budget, marking
// truncation with an ellipsis.
func deriveTitle(content string, max int) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return strings.TrimSpace(string(runes[:max])) + "..."
}

// beginStream reserves the session's single stream slot.
func (e *Engine) beginStream(sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active[sessionID] {
		return ErrStreamActive
	}
	e.active[sessionID] = true
	return nil
}

func (e *Engine) endStream(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, sessionID)
}

// StreamActive reports whether a stream currently holds the session slot.
func (e *Engine) StreamActive(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active[sessionID]
}
