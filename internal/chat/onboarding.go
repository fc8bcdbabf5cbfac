package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/samer-khoury/mizan/models"
)

// Identity persists user identity outside the session store: display name,
// auth status and guest contact email.
type Identity interface {
	Name(ctx context.Context, userID string) (string, error)
	SetName(ctx context.Context, userID, name string) error
	ResolveGuest(ctx context.Context, userID, email string) error
	ResolveAuthenticated(ctx context.Context, userID, name, email string) error
}

// OnboardingState enumerates the auth-gate sequencer states.
type OnboardingState string

const (
	StateNamePrompted OnboardingState = "name_prompted"
	StateAuthPrompted OnboardingState = "auth_prompted"
	StateResolved     OnboardingState = "resolved"
)

const (
	authPromptContent   = "Thank you. To continue, please sign in or provide a contact email to proceed as a guest."
	confirmationContent = "You're all set, %s. How can I assist you with your legal matter today?"
)

// OnboardingState derives the sequencer state from session contents. The
// Unknown-Name state is transient: session creation with no persisted name
// immediately prompts for one, so a stored session is never observed there.
func (e *Engine) OnboardingState(sess *models.Session) OnboardingState {
	if !sess.Meta.NeedsOnboarding {
		return StateResolved
	}
	for i := range sess.Messages {
		if sess.Messages[i].Type == models.MessageAuthPrompt {
			return StateAuthPrompted
		}
	}
	return StateNamePrompted
}

// SubmitName handles the Name-Prompted -> Auth-Prompted transition: the user
// message content is taken verbatim as the name (no validation beyond
// non-empty), persisted, and an auth-prompt message is appended.
func (e *Engine) SubmitName(ctx context.Context, ident Identity, userID, sessionID, name string) (*models.Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("name must not be empty")
	}
	sess, err := e.store.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if e.OnboardingState(sess) != StateNamePrompted {
		return nil, fmt.Errorf("session %s is not awaiting a name", sessionID)
	}
	if err := ident.SetName(ctx, userID, name); err != nil {
		return nil, err
	}
	if _, err := e.AppendMessage(ctx, userID, sessionID, models.Message{
		Role:    models.RoleUser,
		Content: name,
	}); err != nil {
		return nil, err
	}
	return e.AppendMessage(ctx, userID, sessionID, models.Message{
		Role:    models.RoleModel,
		Content: authPromptContent,
		Type:    models.MessageAuthPrompt,
	})
}

// AuthResolution carries the outcome of the auth gate: a third-party sign-in
// (name/email from the credential) or an explicit guest-continue submission.
type AuthResolution struct {
	Guest bool
	Name  string
	Email string
}

// ResolveAuth handles Auth-Prompted -> Resolved: the auth-prompt message is
// removed from the session (not merely hidden), a confirmation message is
// appended and the identity record is updated. Resolved is permanent for the
// session.
func (e *Engine) ResolveAuth(ctx context.Context, ident Identity, userID, sessionID string, res AuthResolution) (*models.Session, error) {
	sess, err := e.store.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if e.OnboardingState(sess) != StateAuthPrompted {
		return nil, fmt.Errorf("session %s is not awaiting authentication", sessionID)
	}

	name := res.Name
	if name == "" {
		name, _ = ident.Name(ctx, userID)
	}
	if res.Guest {
		if strings.TrimSpace(res.Email) == "" {
			return nil, fmt.Errorf("guest contact email must not be empty")
		}
		if err := ident.ResolveGuest(ctx, userID, res.Email); err != nil {
			return nil, err
		}
	} else {
		if err := ident.ResolveAuthenticated(ctx, userID, name, res.Email); err != nil {
			return nil, err
		}
	}

	kept := sess.Messages[:0]
	for _, m := range sess.Messages {
		if m.Type != models.MessageAuthPrompt {
			kept = append(kept, m)
		}
	}
	sess.Messages = kept
	sess.Meta.NeedsOnboarding = false
	if err := e.store.Put(ctx, sess); err != nil {
		return nil, err
	}

	return e.AppendMessage(ctx, userID, sessionID, models.Message{
		Role:    models.RoleModel,
		Content: fmt.Sprintf(confirmationContent, name),
	})
}
