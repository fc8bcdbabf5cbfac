package chat

import (
	"context"

	"github.com/samer-khoury/mizan/models"
)

// BriefFunc performs the one-shot structured research call.
type BriefFunc func(ctx context.Context) (*models.ResearchBundle, error)

// AttachBrief runs the degenerate non-streamed reconciliation path: a single
// request, then one atomic append with the complete payload. A failure at any
// point produces the same error+promptForRetry message as a failed stream,
// with no partial bundle ever attached.
func (e *Engine) AttachBrief(ctx context.Context, userID, sessionID string, retry models.RetryPrompt, gen BriefFunc) (*models.Session, error) {
	if err := e.beginStream(sessionID); err != nil {
		return nil, err
	}
	defer e.endStream(sessionID)

	bundle, err := gen(ctx)
	if err != nil {
		e.metrics.BriefsFailed.Inc()
		e.logger.Printf("research brief for session %s failed: %v", sessionID, err)
		r := retry
		return e.AppendMessage(ctx, userID, sessionID, models.Message{
			Role:           models.RoleModel,
			Content:        "I was unable to complete the research brief. Please try again.",
			Type:           models.MessageStandard,
			Error:          true,
			PromptForRetry: &r,
		})
	}

	e.metrics.BriefsGenerated.Inc()
	return e.AppendMessage(ctx, userID, sessionID, models.Message{
		Role:         models.RoleModel,
		Content:      bundle.Issue,
		Type:         models.MessageResearchBrief,
		ResearchData: bundle,
	})
}
