package chat

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/samer-khoury/mizan/models"
)

// placeholderRe matches clause-fill placeholders such as <<CLIENT_NAME>>.
// Classification runs once over the full response text; a placeholder could
// straddle chunk boundaries mid-stream, so it is never applied to deltas.
var placeholderRe = regexp.MustCompile(`<<([^<>]+)>>`)

// Classify assigns the rendering mode for a completed model response.
func Classify(text string) models.MessageType {
	if placeholderRe.MatchString(text) {
		return models.MessageWizard
	}
	return models.MessageStandard
}

// WizardFields returns the placeholder names of a wizard template, unique,
// in order of first occurrence.
func WizardFields(template string) []string {
	seen := make(map[string]bool)
	var fields []string
	for _, m := range placeholderRe.FindAllStringSubmatch(template, -1) {
		name := strings.TrimSpace(m[1])
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		fields = append(fields, name)
	}
	return fields
}

// FinalizeTemplate substitutes field values into a wizard template. Fields
// the user left empty render as an explicit not-provided marker so the
// resulting document never silently drops a blank.
func FinalizeTemplate(template string, values map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		name := strings.TrimSpace(m[2 : len(m)-2])
		if v, ok := values[name]; ok && strings.TrimSpace(v) != "" {
			return v
		}
		return fmt.Sprintf("[%s not provided]", name)
	})
}

// FinalizeWizard rewrites a wizard message with the supplied field values and
// flips its type back to standard. After this the message is immutable again.
func (e *Engine) FinalizeWizard(ctx context.Context, userID, sessionID string, ts int64, values map[string]string) (*models.Session, error) {
	sess, err := e.store.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	msg := sess.MessageByTS(ts)
	if msg == nil {
		return nil, models.ErrMessageNotFound
	}
	if msg.Type != models.MessageWizard {
		return nil, fmt.Errorf("message ts=%d is not a wizard message", ts)
	}
	return e.UpdateMessage(ctx, userID, sessionID, ts, func(msg *models.Message) {
		msg.Content = FinalizeTemplate(msg.Content, values)
		msg.Type = models.MessageStandard
	})
}
