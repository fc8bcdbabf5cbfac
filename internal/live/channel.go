package live

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samer-khoury/mizan/internal/telemetry"
	"github.com/samer-khoury/mizan/models"
)

// ToolSummarize is the tool-call name the backend uses to request a
// conversation summary over the duplex channel.
const ToolSummarize = "summarize_conversation"

const (
	statusSummarizing   = "Summarizing the conversation..."
	statusSummaryFailed = "I couldn't produce a summary just now."
)

// OnceGenerator is the one-shot text backend used by the summarize tool.
type OnceGenerator interface {
	GenerateOnce(ctx context.Context, system, prompt string) (string, error)
}

// UpstreamChannel is the open duplex connection to the speech backend.
type UpstreamChannel interface {
	SendAudio(ctx context.Context, pcm []byte) error
	SendToolResult(ctx context.Context, callID, name, result string) error
	Close() error
}

// VoiceSession owns the resources of one live voice exchange: the upstream
// channel, the transcript merger and the turn journal. It replaces
// free-floating channel handles with a single object whose Close is
// guaranteed idempotent.
type VoiceSession struct {
	ID     string
	UserID string

	merger  *Merger
	journal *Journal
	gen     OnceGenerator
	minSum  int
	logger  *log.Logger
	metrics *telemetry.Metrics

	mu       sync.Mutex
	upstream UpstreamChannel
	closed   bool

	closeOnce sync.Once
	tasks     sync.WaitGroup
}

// VoiceSessionOptions configures a voice session.
type VoiceSessionOptions struct {
	UserID          string
	Observer        Observer
	Journal         *Journal
	Generator       OnceGenerator
	SummaryMinChars int
	Logger          *log.Logger
	Metrics         *telemetry.Metrics
}

// NewVoiceSession builds the session state; the upstream channel is attached
// with Bind once the provider connection is open.
func NewVoiceSession(opts VoiceSessionOptions) *VoiceSession {
	if opts.SummaryMinChars <= 0 {
		opts.SummaryMinChars = 20
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[LIVE] ", log.LstdFlags)
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.Nop()
	}
	v := &VoiceSession{
		ID:      uuid.NewString(),
		UserID:  opts.UserID,
		journal: opts.Journal,
		gen:     opts.Generator,
		minSum:  opts.SummaryMinChars,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	v.merger = NewMerger(opts.Observer, opts.Metrics)
	v.metrics.LiveChannels.Inc()
	return v
}

// Bind attaches the open upstream channel.
func (v *VoiceSession) Bind(upstream UpstreamChannel) {
	v.mu.Lock()
	v.upstream = upstream
	v.mu.Unlock()
}

// Merger exposes the transcript merger for tests and observers.
func (v *VoiceSession) Merger() *Merger { return v.merger }

// HandleUserFragment feeds an input-transcription fragment.
func (v *VoiceSession) HandleUserFragment(text string) { v.merger.UserFragment(text) }

// HandleModelFragment feeds an output-transcription fragment.
func (v *VoiceSession) HandleModelFragment(text string) { v.merger.ModelFragment(text) }

// HandleTurnComplete commits the in-progress turns and journals them.
func (v *VoiceSession) HandleTurnComplete(ctx context.Context) {
	before := len(v.merger.History())
	v.merger.TurnComplete()
	for _, turn := range v.merger.History()[before:] {
		if err := v.journal.Append(ctx, v.ID, v.UserID, turn); err != nil {
			v.logger.Printf("journal turn: %v", err)
		}
	}
}

// SendAudio forwards captured microphone audio upstream. Returns ErrChannel
// once the session is closed.
func (v *VoiceSession) SendAudio(ctx context.Context, pcm []byte) error {
	v.mu.Lock()
	upstream, closed := v.upstream, v.closed
	v.mu.Unlock()
	if closed || upstream == nil {
		return fmt.Errorf("%w: channel not open", models.ErrChannel)
	}
	return upstream.SendAudio(ctx, pcm)
}

// HandleToolCall dispatches a backend tool invocation. The summarize tool
// runs as an independent task so it never blocks receipt of further
// transcription or audio events.
func (v *VoiceSession) HandleToolCall(callID, name string) {
	if name != ToolSummarize {
		v.respondTool(callID, name, fmt.Sprintf("unknown tool %q", name))
		return
	}
	v.tasks.Add(1)
	go func() {
		defer v.tasks.Done()
		v.summarize(callID)
	}()
}

func (v *VoiceSession) summarize(callID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	transcript := v.merger.TranscriptText()
	if len(transcript) < v.minSum {
		v.respondTool(callID, ToolSummarize, "There is not enough conversation to summarize yet.")
		return
	}

	v.merger.InjectSystem(statusSummarizing)
	summary, err := v.gen.GenerateOnce(ctx,
		"You are a legal assistant. Summarize the following consultation transcript in a short paragraph.",
		transcript)
	if err != nil {
		v.logger.Printf("summarize conversation: %v", err)
		v.merger.InjectSystem(statusSummaryFailed)
		v.respondTool(callID, ToolSummarize, "The summary could not be generated.")
		return
	}
	v.merger.InjectSystem("Summary: " + summary)
	v.respondTool(callID, ToolSummarize, "Summary delivered to the user.")
}

func (v *VoiceSession) respondTool(callID, name, result string) {
	v.mu.Lock()
	upstream, closed := v.upstream, v.closed
	v.mu.Unlock()
	if closed || upstream == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := upstream.SendToolResult(ctx, callID, name, result); err != nil {
		v.logger.Printf("send tool result: %v", err)
	}
}

// Close tears the session down: it stops accepting outbound audio, closes
// the upstream channel and waits for in-flight tool tasks. Idempotent —
// closing an unopened or already-closed session is a no-op.
func (v *VoiceSession) Close() error {
	var closeErr error
	v.closeOnce.Do(func() {
		v.mu.Lock()
		v.closed = true
		upstream := v.upstream
		v.upstream = nil
		v.mu.Unlock()
		if upstream != nil {
			closeErr = upstream.Close()
		}
		v.tasks.Wait()
		v.metrics.LiveChannels.Dec()
	})
	return closeErr
}
