package live

import (
	"strings"
	"sync"

	"github.com/samer-khoury/mizan/internal/telemetry"
	"github.com/samer-khoury/mizan/models"
)

// Observer receives the display-ready message list after every change:
// committed history plus any in-progress scratch turns.
type Observer func([]models.LiveMessage)

// Merger reconciles a growing, possibly-overlapping sequence of transcript
// fragments into a deduplicated ordered display list, interleaved with
// locally injected system status lines.
//
// Committed entries are keyed by (speaker, normalized text) — re-delivery of
// an identical turn or status line never produces a second visible entry.
type Merger struct {
	mu sync.Mutex

	history      []models.TranscriptionTurn // committed turns only
	display      []models.LiveMessage       // committed turns + system lines, arrival order
	seen         map[string]bool            // dedup keys of committed display entries
	pendingUser  strings.Builder
	pendingModel strings.Builder

	observer Observer
	metrics  *telemetry.Metrics
}

// NewMerger builds a merger. The observer may be nil.
func NewMerger(observer Observer, metrics *telemetry.Metrics) *Merger {
	if metrics == nil {
		metrics = telemetry.Nop()
	}
	return &Merger{
		seen:     make(map[string]bool),
		observer: observer,
		metrics:  metrics,
	}
}

// UserFragment appends an input-transcription fragment to the in-progress
// user turn and notifies observers with the live view.
func (m *Merger) UserFragment(text string) {
	m.mu.Lock()
	m.pendingUser.WriteString(text)
	view := m.liveViewLocked()
	m.mu.Unlock()
	m.notify(view)
}

// ModelFragment appends an output-transcription fragment to the in-progress
// model turn and notifies observers.
func (m *Merger) ModelFragment(text string) {
	m.mu.Lock()
	m.pendingModel.WriteString(text)
	view := m.liveViewLocked()
	m.mu.Unlock()
	m.notify(view)
}

// TurnComplete commits any non-empty scratch accumulators to history, resets
// them, and notifies observers with the committed view.
func (m *Merger) TurnComplete() {
	m.mu.Lock()
	if text := m.pendingUser.String(); strings.TrimSpace(text) != "" {
		m.commitLocked(models.TranscriptionTurn{Speaker: models.SpeakerUser, Text: text})
	}
	if text := m.pendingModel.String(); strings.TrimSpace(text) != "" {
		m.commitLocked(models.TranscriptionTurn{Speaker: models.SpeakerModel, Text: text})
	}
	m.pendingUser.Reset()
	m.pendingModel.Reset()
	view := m.committedViewLocked()
	m.mu.Unlock()
	m.notify(view)
}

// InjectSystem adds an ephemeral status line to the display list. Identical
// text collapses to one entry.
func (m *Merger) InjectSystem(text string) {
	msg := models.LiveMessage{Kind: models.LiveSystem, System: text}
	m.mu.Lock()
	if !m.seen[msg.Key()] {
		m.seen[msg.Key()] = true
		m.display = append(m.display, msg)
	}
	view := m.liveViewLocked()
	m.mu.Unlock()
	m.notify(view)
}

// History returns a copy of the committed turn history.
func (m *Merger) History() []models.TranscriptionTurn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.TranscriptionTurn(nil), m.history...)
}

// TranscriptText joins the committed turn texts, used for the summarize
// tool's length threshold and prompt.
func (m *Merger) TranscriptText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var b strings.Builder
	for _, t := range m.history {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(string(t.Speaker))
		b.WriteString(": ")
		b.WriteString(t.Text)
	}
	return b.String()
}

func (m *Merger) commitLocked(turn models.TranscriptionTurn) {
	m.history = append(m.history, turn)
	m.metrics.LiveTurns.WithLabelValues(string(turn.Speaker)).Inc()
	msg := models.LiveMessage{Kind: models.LiveTranscript, Transcript: &turn}
	if m.seen[msg.Key()] {
		return
	}
	m.seen[msg.Key()] = true
	m.display = append(m.display, msg)
}

func (m *Merger) committedViewLocked() []models.LiveMessage {
	return append([]models.LiveMessage(nil), m.display...)
}

// liveViewLocked is the committed view plus any non-empty scratch turns, so
// the UI shows in-progress text before it is durably committed.
func (m *Merger) liveViewLocked() []models.LiveMessage {
	view := m.committedViewLocked()
	if text := m.pendingUser.String(); strings.TrimSpace(text) != "" {
		turn := models.TranscriptionTurn{Speaker: models.SpeakerUser, Text: text}
		view = append(view, models.LiveMessage{Kind: models.LiveTranscript, Transcript: &turn})
	}
	if text := m.pendingModel.String(); strings.TrimSpace(text) != "" {
		turn := models.TranscriptionTurn{Speaker: models.SpeakerModel, Text: text}
		view = append(view, models.LiveMessage{Kind: models.LiveTranscript, Transcript: &turn})
	}
	return view
}

func (m *Merger) notify(view []models.LiveMessage) {
	if m.observer != nil {
		m.observer(view)
	}
}
