package provider

import (
	"context"
	"errors"

	"github.com/samer-khoury/mizan/config"
	"github.com/samer-khoury/mizan/models"
	gemini_provider "github.com/samer-khoury/mizan/provider/gemini"
)

// Client names the supported backend implementations.
type Client string

const (
	Gemini Client = "gemini"
)

// Provider is the boundary to the generative/speech backends. Streaming
// calls push events through callbacks in arrival order; they return only
// after the final event.
type Provider interface {
	// GenerateText streams a chat response. With req.Grounded the backend
	// performs web-grounded generation and may emit a sources event.
	GenerateText(ctx context.Context, req gemini_provider.TextRequest, cb gemini_provider.StreamCallbacks) error
	// GenerateResearchBrief performs the one-shot structured research call.
	GenerateResearchBrief(ctx context.Context, issue string) (*models.ResearchBundle, error)
	// GenerateOnce is a plain, non-streamed completion.
	GenerateOnce(ctx context.Context, system, prompt string) (string, error)
	// SynthesizeSpeech returns raw PCM16LE audio for the text.
	SynthesizeSpeech(ctx context.Context, text string) ([]byte, error)
	// OpenLive opens the duplex voice channel.
	OpenLive(ctx context.Context, cb gemini_provider.LiveCallbacks) (gemini_provider.LiveChannel, error)
}

// NewProvider creates a backend client from configuration.
func NewProvider(client Client, cfg config.GeminiConfig) (Provider, error) {
	switch client {
	case Gemini:
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return gemini_provider.NewClient(cfg), nil
	default:
		return nil, errors.New("unsupported provider")
	}
}
