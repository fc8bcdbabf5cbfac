package chat

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/samer-khoury/mizan/models"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(NewMemoryStore(), nil, Options{})
}

func TestCreateSessionGreetsKnownUser(t *testing.T) {
	e := newTestEngine(t)
	sess, err := e.CreateSession(context.Background(), "u1", "Samer", models.SessionMeta{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.Meta.NeedsOnboarding {
		t.Fatal("known user should not need onboarding")
	}
	if len(sess.Messages) != 1 || sess.Messages[0].Role != models.RoleModel {
		t.Fatalf("expected one model greeting, got %+v", sess.Messages)
	}
	if !strings.Contains(sess.Messages[0].Content, "Samer") {
		t.Fatalf("greeting should address the user: %q", sess.Messages[0].Content)
	}
}

func TestCreateSessionStartsOnboardingForUnknownUser(t *testing.T) {
	e := newTestEngine(t)
	sess, err := e.CreateSession(context.Background(), "u1", "", models.SessionMeta{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if !sess.Meta.NeedsOnboarding {
		t.Fatal("unknown user should enter onboarding")
	}
	if got := e.OnboardingState(sess); got != StateNamePrompted {
		t.Fatalf("state = %q, want %q", got, StateNamePrompted)
	}
}

func TestCreateSessionPrependsOrderAndSetsCurrent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	first, _ := e.CreateSession(ctx, "u1", "Samer", models.SessionMeta{})
	second, _ := e.CreateSession(ctx, "u1", "Samer", models.SessionMeta{})

	order, err := e.Store().Order(ctx, "u1")
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	if len(order) != 2 || order[0] != second.ID || order[1] != first.ID {
		t.Fatalf("order = %v, want newest first", order)
	}
	current, _ := e.Store().Current(ctx, "u1")
	if current != second.ID {
		t.Fatalf("current = %q, want %q", current, second.ID)
	}
}

func TestAppendMessageStampsUniqueTS(t *testing.T) {
	frozen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := NewEngine(NewMemoryStore(), nil, Options{Now: func() time.Time { return frozen }})
	ctx := context.Background()
	sess, _ := e.CreateSession(ctx, "u1", "Samer", models.SessionMeta{})

	for i := 0; i < 5; i++ {
		if _, err := e.AppendMessage(ctx, "u1", sess.ID, models.Message{
			Role: models.RoleUser, Content: "hello",
		}); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}
	got, _ := e.Store().Get(ctx, "u1", sess.ID)
	seen := make(map[int64]bool)
	for _, m := range got.Messages {
		if seen[m.TS] {
			t.Fatalf("duplicate ts %d with frozen clock", m.TS)
		}
		seen[m.TS] = true
	}
}

func TestUserAppendClearsSuggestedReplies(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	sess, _ := e.CreateSession(ctx, "u1", "Samer", models.SessionMeta{})

	sess, err := e.AppendMessage(ctx, "u1", sess.ID, models.Message{
		Role: models.RoleModel, Content: "reply", SuggestedReplies: []string{"a", "b"},
	})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	sess, err = e.AppendMessage(ctx, "u1", sess.ID, models.Message{
		Role: models.RoleUser, Content: "picked a",
	})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	for _, m := range sess.Messages[:len(sess.Messages)-1] {
		if len(m.SuggestedReplies) != 0 {
			t.Fatalf("suggested replies should be cleared on user append: %+v", m)
		}
	}
}

func TestTitleDerivedFromFirstUserMessage(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	sess, _ := e.CreateSession(ctx, "u1", "Samer", models.SessionMeta{})
	if sess.Title != e.DefaultTitle() {
		t.Fatalf("new session title = %q, want default", sess.Title)
	}

	long := strings.Repeat("my landlord ", 10)
	sess, _ = e.AppendMessage(ctx, "u1", sess.ID, models.Message{Role: models.RoleUser, Content: long})
	if sess.Title == e.DefaultTitle() {
		t.Fatal("title should be derived from first user message")
	}
	if !strings.HasSuffix(sess.Title, "...") {
		t.Fatalf("long title should be truncated with ellipsis: %q", sess.Title)
	}
	if got := len([]rune(strings.TrimSuffix(sess.Title, "..."))); got > 40 {
		t.Fatalf("title body %d runes, want <= 40", got)
	}

	// later messages never rename
	before := sess.Title
	sess, _ = e.AppendMessage(ctx, "u1", sess.ID, models.Message{Role: models.RoleUser, Content: "something else"})
	if sess.Title != before {
		t.Fatalf("title changed on later message: %q -> %q", before, sess.Title)
	}
}

func TestTitleNotDerivedDuringOnboarding(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	sess, _ := e.CreateSession(ctx, "u1", "", models.SessionMeta{})
	sess, _ = e.AppendMessage(ctx, "u1", sess.ID, models.Message{Role: models.RoleUser, Content: "Samer"})
	if sess.Title != e.DefaultTitle() {
		t.Fatalf("onboarding message should not name the session: %q", sess.Title)
	}
}

func TestUpdateMessageEnforcesRetryPairing(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	sess, _ := e.CreateSession(ctx, "u1", "Samer", models.SessionMeta{})
	ts := sess.Messages[0].TS

	if _, err := e.UpdateMessage(ctx, "u1", sess.ID, ts, func(m *models.Message) {
		m.Error = true // no PromptForRetry
	}); err == nil {
		t.Fatal("error without prompt_for_retry must be rejected")
	}
	if _, err := e.UpdateMessage(ctx, "u1", sess.ID, ts, func(m *models.Message) {
		m.PromptForRetry = &models.RetryPrompt{Prompt: "x"} // no Error
	}); err == nil {
		t.Fatal("prompt_for_retry without error must be rejected")
	}
}

func TestDeleteMessage(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	sess, _ := e.CreateSession(ctx, "u1", "Samer", models.SessionMeta{})
	sess, _ = e.AppendMessage(ctx, "u1", sess.ID, models.Message{Role: models.RoleUser, Content: "hi"})
	ts := sess.LastMessage().TS

	sess, err := e.DeleteMessage(ctx, "u1", sess.ID, ts)
	if err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	if sess.MessageByTS(ts) != nil {
		t.Fatal("message still present after delete")
	}
	if _, err := e.DeleteMessage(ctx, "u1", sess.ID, ts); err != models.ErrMessageNotFound {
		t.Fatalf("err = %v, want ErrMessageNotFound", err)
	}
}

func TestClearAll(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.CreateSession(ctx, "u1", "Samer", models.SessionMeta{})
	e.CreateSession(ctx, "u1", "Samer", models.SessionMeta{})
	e.CreateSession(ctx, "u2", "Nadia", models.SessionMeta{})

	if err := e.ClearAll(ctx, "u1"); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	sessions, _ := e.Store().List(ctx, "u1")
	if len(sessions) != 0 {
		t.Fatalf("u1 still has %d sessions", len(sessions))
	}
	others, _ := e.Store().List(ctx, "u2")
	if len(others) != 1 {
		t.Fatal("other users must be unaffected")
	}
	// idempotent
	if err := e.ClearAll(ctx, "u1"); err != nil {
		t.Fatalf("second ClearAll: %v", err)
	}
}

func TestDeriveTitleShortContentKeptWhole(t *testing.T) {
	if got := deriveTitle("  short question  ", 40); got != "short question" {
		t.Fatalf("deriveTitle = %q", got)
	}
}
