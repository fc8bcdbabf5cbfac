package audio

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/samer-khoury/mizan/internal/telemetry"
	"github.com/samer-khoury/mizan/models"
)

// Synthesizer is the speech backend boundary.
type Synthesizer interface {
	SynthesizeSpeech(ctx context.Context, text string) ([]byte, error)
}

// NoActive marks the absence of an active playback index.
const NoActive = -1

// Playback is a started spoken-playback operation: the decoded samples for
// the given message index.
type Playback struct {
	Index   int
	Samples []float32
}

// Coordinator manages at-most-one active spoken playback per conversation, a
// per-message cache of synthesized audio, and in-flight synthesis requests.
// The cache is append-only for the coordinator's lifetime.
type Coordinator struct {
	synth   Synthesizer
	logger  *log.Logger
	metrics *telemetry.Metrics

	mu      sync.Mutex
	cache   map[int][]byte
	loading map[int]bool
	active  int
}

// NewCoordinator builds a coordinator over the given synthesis backend.
func NewCoordinator(synth Synthesizer, logger *log.Logger, metrics *telemetry.Metrics) *Coordinator {
	if logger == nil {
		logger = log.New(log.Writer(), "[AUDIO] ", log.LstdFlags)
	}
	if metrics == nil {
		metrics = telemetry.Nop()
	}
	return &Coordinator{
		synth:   synth,
		logger:  logger,
		metrics: metrics,
		cache:   make(map[int][]byte),
		loading: make(map[int]bool),
		active:  NoActive,
	}
}

// Prefetch synthesizes audio for a message ahead of playback. No-op when the
// index is already cached, already loading, or the text is empty. The
// loading flag is cleared regardless of outcome.
func (c *Coordinator) Prefetch(ctx context.Context, text string, index int) error {
	if text == "" {
		return nil
	}
	c.mu.Lock()
	if _, ok := c.cache[index]; ok {
		c.mu.Unlock()
		return nil
	}
	if c.loading[index] {
		c.mu.Unlock()
		return nil
	}
	c.loading[index] = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.loading, index)
		c.mu.Unlock()
	}()

	payload, err := c.synth.SynthesizeSpeech(ctx, text)
	if err != nil {
		return fmt.Errorf("%w: index %d: %v", models.ErrSynthesis, index, err)
	}
	c.mu.Lock()
	c.cache[index] = payload
	c.mu.Unlock()
	return nil
}

// Play starts playback for a message index:
//
//   - on the currently active index, it stops playback instead (toggle);
//   - otherwise any other active playback is stopped first, so two playback
//     operations are never live at once;
//   - uncached audio is fetched via Prefetch; a failed fetch is logged,
//     leaves no active playback and returns (nil, nil) rather than an error —
//     the message stays readable as text.
func (c *Coordinator) Play(ctx context.Context, text string, index int) (*Playback, error) {
	c.mu.Lock()
	if c.active == index {
		c.active = NoActive
		c.mu.Unlock()
		return nil, nil
	}
	c.active = NoActive // stop whichever playback was running
	payload, cached := c.cache[index]
	c.mu.Unlock()

	if cached {
		c.metrics.SynthCacheHits.Inc()
	} else {
		c.metrics.SynthCacheMisses.Inc()
		if err := c.Prefetch(ctx, text, index); err != nil {
			c.logger.Printf("prefetch for playback: %v", err)
			return nil, nil
		}
		c.mu.Lock()
		payload, cached = c.cache[index]
		c.mu.Unlock()
		if !cached {
			// A concurrent Prefetch held the loading flag and failed.
			return nil, nil
		}
	}

	samples, err := DecodePCM16(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: decode index %d: %v", models.ErrSynthesis, index, err)
	}
	c.mu.Lock()
	c.active = index
	c.mu.Unlock()
	return &Playback{Index: index, Samples: samples}, nil
}

// Stop explicitly halts playback of the given index if it is active.
func (c *Coordinator) Stop(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == index {
		c.active = NoActive
	}
}

// Complete records natural end of playback. It clears the active index only
// when it still refers to the playback that finished, so a stale completion
// callback never clears a newer playback.
func (c *Coordinator) Complete(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == index {
		c.active = NoActive
	}
}

// Active returns the currently playing index, or NoActive.
func (c *Coordinator) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Cached reports whether audio for the index is already synthesized.
func (c *Coordinator) Cached(index int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.cache[index]
	return ok
}
