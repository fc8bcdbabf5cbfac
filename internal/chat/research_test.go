package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/samer-khoury/mizan/models"
)

func TestAttachBriefSuccess(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	sess := seedSession(t, e)

	bundle := &models.ResearchBundle{
		Issue: "Deposit retention",
		Forum: models.ForumOnshore,
		Points: []models.ResearchPoint{
			{Label: models.LabelVerified, Proposition: "Deposit must be returned.", Cite: "Law 26/2007"},
		},
		LastVerifiedOn: "2026-03-01",
	}
	sess, err := e.AttachBrief(ctx, "u1", sess.ID, models.RetryPrompt{Prompt: "deposit"}, func(ctx context.Context) (*models.ResearchBundle, error) {
		return bundle, nil
	})
	if err != nil {
		t.Fatalf("AttachBrief: %v", err)
	}
	msg := sess.LastMessage()
	if msg.Type != models.MessageResearchBrief {
		t.Fatalf("type = %q", msg.Type)
	}
	if msg.ResearchData == nil || msg.ResearchData.Forum != models.ForumOnshore {
		t.Fatalf("research data = %+v", msg.ResearchData)
	}
	if msg.Content != "Deposit retention" {
		t.Fatalf("content = %q", msg.Content)
	}
}

func TestAttachBriefFailureHasNoPartialBundle(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	sess := seedSession(t, e)

	sess, err := e.AttachBrief(ctx, "u1", sess.ID, models.RetryPrompt{Prompt: "deposit"}, func(ctx context.Context) (*models.ResearchBundle, error) {
		return nil, errors.New("schema mismatch")
	})
	if err != nil {
		t.Fatalf("AttachBrief: %v", err)
	}
	msg := sess.LastMessage()
	if !msg.Error || msg.PromptForRetry == nil {
		t.Fatalf("failed brief must be retryable: %+v", msg)
	}
	if msg.ResearchData != nil {
		t.Fatal("partial bundle attached on failure")
	}
	if msg.Type != models.MessageStandard {
		t.Fatalf("type = %q, want standard error bubble", msg.Type)
	}
}

func TestAttachBriefHoldsStreamSlot(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	sess := seedSession(t, e)

	entered := make(chan struct{})
	release := make(chan struct{})
	go e.AttachBrief(ctx, "u1", sess.ID, models.RetryPrompt{Prompt: "x"}, func(ctx context.Context) (*models.ResearchBundle, error) {
		close(entered)
		<-release
		return &models.ResearchBundle{Issue: "x"}, nil
	})

	<-entered
	if _, err := e.AttachBrief(ctx, "u1", sess.ID, models.RetryPrompt{Prompt: "y"}, func(ctx context.Context) (*models.ResearchBundle, error) {
		return &models.ResearchBundle{Issue: "y"}, nil
	}); !errors.Is(err, ErrStreamActive) {
		t.Fatalf("err = %v, want ErrStreamActive", err)
	}
	close(release)
}
