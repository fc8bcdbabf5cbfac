package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrSessionNotFound is returned when a session id does not exist in the store.
var ErrSessionNotFound = errors.New("session not found")

// ErrMessageNotFound is returned when a message ts does not exist in a session.
var ErrMessageNotFound = errors.New("message not found")

// Domain failure classes. Callers wrap backend errors with these so handlers
// can decide between retry affordances and plain teardown.
var (
	ErrGeneration = errors.New("generation failed")
	ErrSynthesis  = errors.New("speech synthesis failed")
	ErrChannel    = errors.New("live channel failed")
	ErrStorage    = errors.New("storage failed")
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// MessageType selects the rendering mode of a model message.
type MessageType string

const (
	MessageStandard      MessageType = "standard"
	MessageWizard        MessageType = "wizard"
	MessageAuthPrompt    MessageType = "auth_prompt"
	MessageResearchBrief MessageType = "research_brief"
)

// Persona is a named system-instruction preset.
type Persona string

const PersonaDefault Persona = "default"

// Source is a single grounded-search citation.
type Source struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// Message is one entry in a session's ordered history. TS doubles as the
// message's identity key inside its session, so it must be unique there.
type Message struct {
	Role             Role            `json:"role"`
	Content          string          `json:"content"`
	TS               int64           `json:"ts"`
	Sources          []Source        `json:"sources,omitempty"`
	Type             MessageType     `json:"message_type"`
	SuggestedReplies []string        `json:"suggested_replies,omitempty"`
	Error            bool            `json:"error,omitempty"`
	PromptForRetry   *RetryPrompt    `json:"prompt_for_retry,omitempty"`
	ResearchData     *ResearchBundle `json:"research_data,omitempty"`
}

// RetryPrompt holds the original send so a failed turn can be resubmitted
// through the normal send path.
type RetryPrompt struct {
	Prompt   string `json:"prompt"`
	FileName string `json:"file_name,omitempty"`
	FileData string `json:"file_data,omitempty"`
	FileMIME string `json:"file_mime,omitempty"`
}

// Validate enforces the error/promptForRetry pairing invariant.
func (m *Message) Validate() error {
	if m.Error && m.PromptForRetry == nil {
		return fmt.Errorf("message ts=%d: error set without prompt_for_retry", m.TS)
	}
	if !m.Error && m.PromptForRetry != nil {
		return fmt.Errorf("message ts=%d: prompt_for_retry set without error", m.TS)
	}
	return nil
}

// SessionMeta carries per-thread configuration.
type SessionMeta struct {
	ServiceCode     string  `json:"service_code,omitempty"`
	Persona         Persona `json:"persona"`
	NeedsOnboarding bool    `json:"needs_onboarding"`
}

// Session is a persistent conversation thread. Messages are mutated only
// through the chat engine, never by replacing interior elements directly.
type Session struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	Title     string      `json:"title"`
	CreatedAt time.Time   `json:"created_at"`
	Meta      SessionMeta `json:"meta"`
	Messages  []Message   `json:"messages"`
}

// LastMessage returns a pointer to the final message, or nil when empty.
func (s *Session) LastMessage() *Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return &s.Messages[len(s.Messages)-1]
}

// MessageByTS finds a message by its identity key.
func (s *Session) MessageByTS(ts int64) *Message {
	for i := range s.Messages {
		if s.Messages[i].TS == ts {
			return &s.Messages[i]
		}
	}
	return nil
}

// Forum identifies the jurisdiction a research brief covers.
type Forum string

const (
	ForumOnshore Forum = "onshore"
	ForumDIFC    Forum = "difc"
	ForumADGM    Forum = "adgm"
	ForumMixed   Forum = "mixed"
)

// PointLabel grades how well a research proposition is supported.
type PointLabel string

const (
	LabelVerified           PointLabel = "Verified"
	LabelReasonablyInferred PointLabel = "Reasonably Inferred"
	LabelUnverified         PointLabel = "Unverified"
)

// ResearchPoint is one labeled proposition in a brief.
type ResearchPoint struct {
	Label       PointLabel `json:"label"`
	Proposition string     `json:"proposition"`
	Cite        string     `json:"cite,omitempty"`
}

// ResearchBundle is a structured, citation-labeled research result.
// Immutable once attached to a message.
type ResearchBundle struct {
	Issue          string          `json:"issue"`
	Forum          Forum           `json:"forum"`
	Points         []ResearchPoint `json:"points"`
	LastVerifiedOn string          `json:"last_verified_on"`
}

// Speaker tags one side of a live voice exchange.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerModel Speaker = "model"
)

// TranscriptionTurn is one speaker's contiguous transcribed utterance.
// Identity for dedup purposes is the (speaker, normalized text) pair.
type TranscriptionTurn struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// Key returns the dedup key for this turn.
func (t TranscriptionTurn) Key() string {
	return string(t.Speaker) + "\x00" + strings.TrimSpace(t.Text)
}

// LiveKind discriminates LiveMessage variants.
type LiveKind string

const (
	LiveTranscript LiveKind = "transcript"
	LiveSystem     LiveKind = "system"
)

// LiveMessage is the display union for the voice view: either a transcript
// turn or an ephemeral system status line. Never persisted.
type LiveMessage struct {
	Kind       LiveKind           `json:"kind"`
	Transcript *TranscriptionTurn `json:"transcript,omitempty"`
	System     string             `json:"system,omitempty"`
}

// Key returns the dedup identity for display merging. System lines are keyed
// by their text, not by a random id; identical status text collapses.
func (m LiveMessage) Key() string {
	switch m.Kind {
	case LiveTranscript:
		if m.Transcript == nil {
			return "transcript\x00"
		}
		return "transcript\x00" + m.Transcript.Key()
	case LiveSystem:
		return "system\x00" + strings.TrimSpace(m.System)
	}
	return ""
}
