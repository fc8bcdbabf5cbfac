package gemini_provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/websocket"

	"github.com/samer-khoury/mizan/models"
)

// LiveCallbacks receive events from the duplex voice channel. Callbacks are
// invoked from the channel's read loop, one at a time, in arrival order.
type LiveCallbacks struct {
	OnUserFragment  func(text string)
	OnModelFragment func(text string)
	OnTurnComplete  func()
	OnAudio         func(pcm []byte)
	OnToolCall      func(callID, name string)
	OnStateChange   func(open bool)
}

// LiveChannel is an open duplex connection to the live voice backend.
type LiveChannel interface {
	SendAudio(ctx context.Context, pcm []byte) error
	SendToolResult(ctx context.Context, callID, name, result string) error
	Close() error
}

// Live API wire types, reduced to what the service exchanges.

type liveSetup struct {
	Setup liveSetupBody `json:"setup"`
}

type liveSetupBody struct {
	Model            string              `json:"model"`
	GenerationConfig *liveGenConfig      `json:"generationConfig,omitempty"`
	Tools            []liveToolFunctions `json:"tools,omitempty"`
	InputTranscript  *struct{}           `json:"inputAudioTranscription,omitempty"`
	OutputTranscript *struct{}           `json:"outputAudioTranscription,omitempty"`
	SystemInstr      *genContent         `json:"systemInstruction,omitempty"`
}

type liveToolFunctions struct {
	FunctionDeclarations []liveFunctionDecl `json:"functionDeclarations"`
}

type liveFunctionDecl struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type liveGenConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type liveRealtimeInput struct {
	RealtimeInput struct {
		Audio *genInlineData `json:"audio,omitempty"`
	} `json:"realtimeInput"`
}

type liveToolResponse struct {
	ToolResponse struct {
		FunctionResponses []liveFunctionResponse `json:"functionResponses"`
	} `json:"toolResponse"`
}

type liveFunctionResponse struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type liveServerMessage struct {
	SetupComplete *struct{} `json:"setupComplete,omitempty"`
	ServerContent *struct {
		ModelTurn *struct {
			Parts []genPart `json:"parts"`
		} `json:"modelTurn,omitempty"`
		InputTranscription *struct {
			Text string `json:"text"`
		} `json:"inputTranscription,omitempty"`
		OutputTranscription *struct {
			Text string `json:"text"`
		} `json:"outputTranscription,omitempty"`
		TurnComplete bool `json:"turnComplete,omitempty"`
	} `json:"serverContent,omitempty"`
	ToolCall *struct {
		FunctionCalls []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"functionCalls"`
	} `json:"toolCall,omitempty"`
}

// liveChannel implements LiveChannel over one websocket connection.
type liveChannel struct {
	conn *websocket.Conn
	cb   LiveCallbacks

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

const liveSystemInstruction = "You are a legal assistant speaking with a client. " +
	"Answer in clear spoken language. Call summarize_conversation when the " +
	"client asks for a recap of the consultation."

// OpenLive dials the live voice endpoint, performs setup and starts the read
// loop. The returned channel stays open until Close or a read failure; either
// way OnStateChange(false) fires exactly once.
func (c *Client) OpenLive(ctx context.Context, cb LiveCallbacks) (LiveChannel, error) {
	wsURL, err := c.liveEndpoint()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrChannel, err)
	}
	wsCfg, err := websocket.NewConfig(wsURL, "https://"+hostOf(wsURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrChannel, err)
	}
	conn, err := wsCfg.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: dial live endpoint: %v", models.ErrChannel, err)
	}

	setup := liveSetup{
		Setup: liveSetupBody{
			Model:            "models/" + c.cfg.LiveModel,
			GenerationConfig: &liveGenConfig{ResponseModalities: []string{"AUDIO"}},
			Tools: []liveToolFunctions{{
				FunctionDeclarations: []liveFunctionDecl{{
					Name:        "summarize_conversation",
					Description: "Summarize the consultation so far for the client.",
				}},
			}},
			InputTranscript:  &struct{}{},
			OutputTranscript: &struct{}{},
			SystemInstr: &genContent{
				Parts: []genPart{{Text: liveSystemInstruction}},
			},
		},
	}
	if err := websocket.JSON.Send(conn, setup); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: live setup: %v", models.ErrChannel, err)
	}

	ch := &liveChannel{conn: conn, cb: cb, done: make(chan struct{})}
	if cb.OnStateChange != nil {
		cb.OnStateChange(true)
	}
	go ch.readLoop()
	return ch, nil
}

func (c *Client) liveEndpoint() (string, error) {
	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", err
	}
	scheme := "wss"
	if base.Scheme == "http" || base.Scheme == "ws" {
		scheme = "ws"
	}
	return fmt.Sprintf("%s://%s/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		scheme, base.Host, url.QueryEscape(c.cfg.APIKey)), nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Host
}

// readLoop dispatches server messages until the connection ends.
func (l *liveChannel) readLoop() {
	defer func() {
		l.Close()
		if l.cb.OnStateChange != nil {
			l.cb.OnStateChange(false)
		}
	}()
	for {
		var raw []byte
		if err := websocket.Message.Receive(l.conn, &raw); err != nil {
			return
		}
		var msg liveServerMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		l.dispatch(msg)
	}
}

func (l *liveChannel) dispatch(msg liveServerMessage) {
	if sc := msg.ServerContent; sc != nil {
		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" && l.cb.OnUserFragment != nil {
			l.cb.OnUserFragment(sc.InputTranscription.Text)
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" && l.cb.OnModelFragment != nil {
			l.cb.OnModelFragment(sc.OutputTranscription.Text)
		}
		if sc.ModelTurn != nil && l.cb.OnAudio != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part.InlineData == nil || !strings.HasPrefix(part.InlineData.MIMEType, "audio/") {
					continue
				}
				pcm, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					continue
				}
				l.cb.OnAudio(pcm)
			}
		}
		if sc.TurnComplete && l.cb.OnTurnComplete != nil {
			l.cb.OnTurnComplete()
		}
	}
	if tc := msg.ToolCall; tc != nil && l.cb.OnToolCall != nil {
		for _, call := range tc.FunctionCalls {
			l.cb.OnToolCall(call.ID, call.Name)
		}
	}
}

func (l *liveChannel) send(ctx context.Context, v any) error {
	select {
	case <-l.done:
		return fmt.Errorf("%w: channel closed", models.ErrChannel)
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := websocket.JSON.Send(l.conn, v); err != nil {
		return fmt.Errorf("%w: %v", models.ErrChannel, err)
	}
	return nil
}

// SendAudio forwards raw PCM16 microphone audio to the backend.
func (l *liveChannel) SendAudio(ctx context.Context, pcm []byte) error {
	var in liveRealtimeInput
	in.RealtimeInput.Audio = &genInlineData{
		MIMEType: "audio/pcm;rate=16000",
		Data:     base64.StdEncoding.EncodeToString(pcm),
	}
	return l.send(ctx, in)
}

// SendToolResult answers a backend tool invocation.
func (l *liveChannel) SendToolResult(ctx context.Context, callID, name, result string) error {
	var resp liveToolResponse
	resp.ToolResponse.FunctionResponses = []liveFunctionResponse{{
		ID:       callID,
		Name:     name,
		Response: map[string]any{"result": result},
	}}
	return l.send(ctx, resp)
}

// Close tears the connection down. Idempotent.
func (l *liveChannel) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.closeErr = l.conn.Close()
	})
	return l.closeErr
}
