package gemini_provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/samer-khoury/mizan/config"
	"github.com/samer-khoury/mizan/models"
)

// ChatMessage is one prior turn supplied as generation history.
type ChatMessage struct {
	Role    string `json:"role"` // "user" or "model"
	Content string `json:"content"`
}

// FileAttachment is an inline file sent with a prompt.
type FileAttachment struct {
	Name string `json:"name"`
	MIME string `json:"mime"`
	Data string `json:"data"` // base64
}

// TextRequest describes one streamed generation call.
type TextRequest struct {
	History  []ChatMessage
	System   string
	Prompt   string
	File     *FileAttachment
	Grounded bool
}

// StreamCallbacks receive response events in arrival order. A callback
// returning an error aborts the stream.
type StreamCallbacks struct {
	OnChunk    func(text string) error
	OnSources  func(sources []models.Source) error
	OnComplete func(suggested []string) error
}

// Client talks to the Gemini REST and live APIs.
type Client struct {
	cfg        config.GeminiConfig
	httpClient *http.Client
}

// NewClient builds a client from provider configuration.
func NewClient(cfg config.GeminiConfig) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Request/response wire types, reduced to the fields the service reads.

type genPart struct {
	Text       string         `json:"text,omitempty"`
	InlineData *genInlineData `json:"inlineData,omitempty"`
}

type genInlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type genContent struct {
	Role  string    `json:"role,omitempty"`
	Parts []genPart `json:"parts"`
}

type genRequest struct {
	Contents          []genContent   `json:"contents"`
	SystemInstruction *genContent    `json:"systemInstruction,omitempty"`
	Tools             []genTool      `json:"tools,omitempty"`
	GenerationConfig  *genGenConfig  `json:"generationConfig,omitempty"`
	SpeechConfig      *genSpeechConf `json:"speechConfig,omitempty"`
}

type genTool struct {
	GoogleSearch *struct{} `json:"google_search,omitempty"`
}

type genGenConfig struct {
	Temperature        float64         `json:"temperature,omitempty"`
	ResponseMIMEType   string          `json:"responseMimeType,omitempty"`
	ResponseSchema     json.RawMessage `json:"responseSchema,omitempty"`
	ResponseModalities []string        `json:"responseModalities,omitempty"`
}

type genSpeechConf struct {
	VoiceConfig struct {
		PrebuiltVoiceConfig struct {
			VoiceName string `json:"voiceName"`
		} `json:"prebuiltVoiceConfig"`
	} `json:"voiceConfig"`
}

type genResponse struct {
	Candidates []struct {
		Content           genContent `json:"content"`
		FinishReason      string     `json:"finishReason,omitempty"`
		GroundingMetadata *struct {
			GroundingChunks []struct {
				Web *struct {
					URI   string `json:"uri"`
					Title string `json:"title"`
				} `json:"web,omitempty"`
			} `json:"groundingChunks,omitempty"`
		} `json:"groundingMetadata,omitempty"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) endpoint(model, verb string) string {
	return fmt.Sprintf("%s/v1beta/models/%s:%s", strings.TrimSuffix(c.cfg.BaseURL, "/"), model, verb)
}

func (c *Client) buildContents(req TextRequest) []genContent {
	contents := make([]genContent, 0, len(req.History)+1)
	for _, m := range req.History {
		contents = append(contents, genContent{Role: m.Role, Parts: []genPart{{Text: m.Content}}})
	}
	parts := []genPart{{Text: req.Prompt}}
	if req.File != nil {
		parts = append(parts, genPart{InlineData: &genInlineData{MIMEType: req.File.MIME, Data: req.File.Data}})
	}
	return append(contents, genContent{Role: "user", Parts: parts})
}

// GenerateText streams a response over SSE: text deltas as chunk events, a
// grounding-metadata block as one sources event, and a terminal complete
// event carrying any suggested replies the model appended.
func (c *Client) GenerateText(ctx context.Context, req TextRequest, cb StreamCallbacks) error {
	body := genRequest{
		Contents:         c.buildContents(req),
		GenerationConfig: &genGenConfig{Temperature: c.cfg.Temperature},
	}
	if req.System != "" {
		body.SystemInstruction = &genContent{Parts: []genPart{{Text: req.System}}}
	}
	if req.Grounded {
		body.Tools = []genTool{{GoogleSearch: &struct{}{}}}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	url := c.endpoint(c.cfg.ChatModel, "streamGenerateContent") + "?alt=sse&key=" + c.cfg.APIKey
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrGeneration, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: status %d: %s", models.ErrGeneration, resp.StatusCode, string(data))
	}
	return c.processStream(ctx, resp.Body, cb)
}

// processStream reads SSE events and forwards them through the callbacks.
// Suggested replies arrive as a trailing marker line in the generated text;
// the marker is buffered out of the chunk stream and delivered with the
// complete event instead.
func (c *Client) processStream(ctx context.Context, reader io.Reader, cb StreamCallbacks) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	// The final line may be the suggestions marker, which must not reach the
	// chunk stream, so the text after the last newline is held back until the
	// next newline arrives or the stream ends.
	var held string
	sentSources := false

	emit := func(text string) error {
		held += text
		idx := strings.LastIndexByte(held, '\n')
		if idx < 0 {
			return nil
		}
		out := held[:idx+1]
		held = held[idx+1:]
		if cb.OnChunk != nil {
			return cb.OnChunk(out)
		}
		return nil
	}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}
		var resp genResponse
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			continue // skip malformed chunks
		}
		if resp.Error != nil {
			return fmt.Errorf("%w: %s", models.ErrGeneration, resp.Error.Message)
		}
		if len(resp.Candidates) == 0 {
			continue
		}
		cand := resp.Candidates[0]
		if cand.GroundingMetadata != nil && !sentSources && cb.OnSources != nil {
			var sources []models.Source
			for _, ch := range cand.GroundingMetadata.GroundingChunks {
				if ch.Web != nil {
					sources = append(sources, models.Source{URI: ch.Web.URI, Title: ch.Web.Title})
				}
			}
			if len(sources) > 0 {
				sentSources = true
				if err := cb.OnSources(sources); err != nil {
					return err
				}
			}
		}
		for _, part := range cand.Content.Parts {
			if part.Text == "" {
				continue
			}
			if err := emit(part.Text); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", models.ErrGeneration, err)
	}

	suggested, isMarker := ParseSuggestionLine(held)
	if !isMarker && held != "" {
		if cb.OnChunk != nil {
			if err := cb.OnChunk(held); err != nil {
				return err
			}
		}
	}
	if cb.OnComplete != nil {
		return cb.OnComplete(suggested)
	}
	return nil
}

// suggestionMarker precedes a pipe-separated list of follow-up replies the
// system prompt asks the model to append on its final line.
const suggestionMarker = "[suggestions]:"

// ParseSuggestionLine reports whether the line is a suggestions marker and,
// if so, the replies it carries.
func ParseSuggestionLine(line string) (suggested []string, ok bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, suggestionMarker) {
		return nil, false
	}
	for _, s := range strings.Split(trimmed[len(suggestionMarker):], "|") {
		if s = strings.TrimSpace(s); s != "" {
			suggested = append(suggested, s)
		}
	}
	return suggested, true
}

// GenerateOnce performs a plain completion and returns the full text.
func (c *Client) GenerateOnce(ctx context.Context, system, prompt string) (string, error) {
	body := genRequest{
		Contents:         []genContent{{Role: "user", Parts: []genPart{{Text: prompt}}}},
		GenerationConfig: &genGenConfig{Temperature: c.cfg.Temperature},
	}
	if system != "" {
		body.SystemInstruction = &genContent{Parts: []genPart{{Text: system}}}
	}
	resp, err := c.generateContent(ctx, c.cfg.ChatModel, body)
	if err != nil {
		return "", err
	}
	return firstText(resp)
}

// briefSchema constrains the structured research response.
var briefSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "issue": {"type": "string"},
    "forum": {"type": "string", "enum": ["onshore", "difc", "adgm", "mixed"]},
    "points": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "label": {"type": "string", "enum": ["Verified", "Reasonably Inferred", "Unverified"]},
          "proposition": {"type": "string"},
          "cite": {"type": "string"}
        },
        "required": ["label", "proposition"]
      }
    },
    "last_verified_on": {"type": "string"}
  },
  "required": ["issue", "forum", "points", "last_verified_on"]
}`)

// GenerateResearchBrief performs the one-shot structured research call. A
// response that does not parse into the expected schema is a generation
// failure; no partial bundle is ever returned.
func (c *Client) GenerateResearchBrief(ctx context.Context, issue string) (*models.ResearchBundle, error) {
	body := genRequest{
		Contents: []genContent{{Role: "user", Parts: []genPart{{
			Text: "Produce a structured legal research brief for the following issue, labeling every proposition as Verified, Reasonably Inferred or Unverified, with citations where available.\n\nIssue: " + issue,
		}}}},
		GenerationConfig: &genGenConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   briefSchema,
		},
	}
	resp, err := c.generateContent(ctx, c.cfg.BriefModel, body)
	if err != nil {
		return nil, err
	}
	text, err := firstText(resp)
	if err != nil {
		return nil, err
	}
	var bundle models.ResearchBundle
	if err := json.Unmarshal([]byte(text), &bundle); err != nil {
		return nil, fmt.Errorf("%w: parse brief: %v", models.ErrGeneration, err)
	}
	if bundle.Issue == "" || len(bundle.Points) == 0 {
		return nil, fmt.Errorf("%w: brief missing required fields", models.ErrGeneration)
	}
	return &bundle, nil
}

// SynthesizeSpeech returns raw PCM16LE/24kHz audio for the text.
func (c *Client) SynthesizeSpeech(ctx context.Context, text string) ([]byte, error) {
	body := genRequest{
		Contents:         []genContent{{Role: "user", Parts: []genPart{{Text: text}}}},
		GenerationConfig: &genGenConfig{ResponseModalities: []string{"AUDIO"}},
		SpeechConfig:     &genSpeechConf{},
	}
	body.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName = "Kore"

	resp, err := c.generateContent(ctx, c.cfg.TTSModel, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSynthesis, err)
	}
	for _, cand := range resp.Candidates {
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && part.InlineData.Data != "" {
				payload, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					return nil, fmt.Errorf("%w: decode audio: %v", models.ErrSynthesis, err)
				}
				return payload, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: response carried no audio", models.ErrSynthesis)
}

func (c *Client) generateContent(ctx context.Context, model string, body genRequest) (*genResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	url := c.endpoint(model, "generateContent") + "?key=" + c.cfg.APIKey
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrGeneration, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", models.ErrGeneration, resp.StatusCode, string(data))
	}
	var out genResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", models.ErrGeneration, err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("%w: %s", models.ErrGeneration, out.Error.Message)
	}
	return &out, nil
}

func firstText(resp *genResponse) (string, error) {
	for _, cand := range resp.Candidates {
		var b strings.Builder
		for _, part := range cand.Content.Parts {
			b.WriteString(part.Text)
		}
		if b.Len() > 0 {
			return b.String(), nil
		}
	}
	return "", fmt.Errorf("%w: empty response", models.ErrGeneration)
}
