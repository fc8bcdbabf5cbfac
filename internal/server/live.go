package server

import (
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"

	"github.com/labstack/echo/v4"
	"golang.org/x/net/websocket"

	"github.com/samer-khoury/mizan/internal/audio"
	"github.com/samer-khoury/mizan/internal/chat"
	"github.com/samer-khoury/mizan/internal/live"
	"github.com/samer-khoury/mizan/internal/telemetry"
	"github.com/samer-khoury/mizan/models"
	"github.com/samer-khoury/mizan/provider"
	gemini_provider "github.com/samer-khoury/mizan/provider/gemini"
)

// LiveHandler bridges the browser websocket, the voice session and the
// provider's duplex channel, and serves spoken playback of chat messages.
type LiveHandler struct {
	Engine          *chat.Engine
	Provider        provider.Provider
	Journal         *live.Journal
	SummaryMinChars int
	Logger          *log.Logger
	Metrics         *telemetry.Metrics

	mu           sync.Mutex
	coordinators map[string]*audio.Coordinator
}

func (h *LiveHandler) Register(g *echo.Group, secret []byte) {
	g.Use(withAuth(secret))
	g.GET("/channel", h.channel)
	g.POST("/speech/:id/:index/prefetch", h.prefetch)
	g.POST("/speech/:id/:index/play", h.play)
	g.POST("/speech/:id/:index/complete", h.complete)
}

// Browser-side wire messages.

type liveClientMessage struct {
	Type string `json:"type"` // "audio" | "close"
	Data string `json:"data,omitempty"`
}

type liveServerEvent struct {
	Type     string               `json:"type"` // "view" | "audio" | "state" | "error"
	Messages []models.LiveMessage `json:"messages,omitempty"`
	Data     string               `json:"data,omitempty"`
	Open     *bool                `json:"open,omitempty"`
	Error    string               `json:"error,omitempty"`
}

// channel upgrades to a websocket and runs one voice session for its
// lifetime. The session owns the upstream connection; closing the browser
// socket tears everything down exactly once.
func (h *LiveHandler) channel(c echo.Context) error {
	uid := userID(c)
	websocket.Handler(func(ws *websocket.Conn) {
		defer ws.Close()
		h.runVoice(ws, uid)
	}).ServeHTTP(c.Response(), c.Request())
	return nil
}

func (h *LiveHandler) runVoice(ws *websocket.Conn, uid string) {
	var writeMu sync.Mutex
	sendEvent := func(ev liveServerEvent) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := websocket.JSON.Send(ws, ev); err != nil {
			h.Logger.Printf("send live event: %v", err)
		}
	}

	vs := live.NewVoiceSession(live.VoiceSessionOptions{
		UserID: uid,
		Observer: func(view []models.LiveMessage) {
			sendEvent(liveServerEvent{Type: "view", Messages: view})
		},
		Journal:         h.Journal,
		Generator:       h.Provider,
		SummaryMinChars: h.SummaryMinChars,
		Logger:          h.Logger,
		Metrics:         h.Metrics,
	})
	defer func() {
		if err := vs.Close(); err != nil {
			h.Logger.Printf("close voice session %s: %v", vs.ID, err)
		}
	}()

	ctx := ws.Request().Context()
	upstream, err := h.Provider.OpenLive(ctx, gemini_provider.LiveCallbacks{
		OnUserFragment:  vs.HandleUserFragment,
		OnModelFragment: vs.HandleModelFragment,
		OnTurnComplete:  func() { vs.HandleTurnComplete(ctx) },
		OnAudio: func(pcm []byte) {
			sendEvent(liveServerEvent{Type: "audio", Data: base64.StdEncoding.EncodeToString(pcm)})
		},
		OnToolCall: vs.HandleToolCall,
		OnStateChange: func(open bool) {
			sendEvent(liveServerEvent{Type: "state", Open: &open})
		},
	})
	if err != nil {
		h.Logger.Printf("open live channel: %v", err)
		sendEvent(liveServerEvent{Type: "error", Error: "could not open voice channel"})
		return
	}
	vs.Bind(upstream)

	for {
		var raw []byte
		if err := websocket.Message.Receive(ws, &raw); err != nil {
			return
		}
		var msg liveClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "audio":
			pcm, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				continue
			}
			if err := vs.SendAudio(ctx, pcm); err != nil {
				h.Logger.Printf("forward audio: %v", err)
				return
			}
		case "close":
			return
		}
	}
}

// coordinator returns the per-session playback coordinator, creating it on
// first use.
func (h *LiveHandler) coordinator(sessionID string) *audio.Coordinator {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.coordinators == nil {
		h.coordinators = make(map[string]*audio.Coordinator)
	}
	if c, ok := h.coordinators[sessionID]; ok {
		return c
	}
	c := audio.NewCoordinator(h.Provider, h.Logger, h.Metrics)
	h.coordinators[sessionID] = c
	return c
}

func (h *LiveHandler) messageText(c echo.Context) (string, int, error) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		return "", 0, echo.NewHTTPError(http.StatusBadRequest, "invalid index")
	}
	sess, err := h.Engine.Store().Get(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return "", 0, sessionError(err)
	}
	if index >= len(sess.Messages) {
		return "", 0, echo.NewHTTPError(http.StatusNotFound, "message index out of range")
	}
	return sess.Messages[index].Content, index, nil
}

func (h *LiveHandler) prefetch(c echo.Context) error {
	text, index, err := h.messageText(c)
	if err != nil {
		return err
	}
	if err := h.coordinator(c.Param("id")).Prefetch(c.Request().Context(), text, index); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *LiveHandler) play(c echo.Context) error {
	text, index, err := h.messageText(c)
	if err != nil {
		return err
	}
	playback, err := h.coordinator(c.Param("id")).Play(c.Request().Context(), text, index)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if playback == nil {
		// toggled off, or synthesis failed; the text stays readable
		return c.JSON(http.StatusOK, map[string]any{"playing": false})
	}
	return c.JSON(http.StatusOK, SpeechResponse{
		Index:      playback.Index,
		SampleRate: audio.SampleRate,
		Channels:   audio.Channels,
		Samples:    playback.Samples,
	})
}

func (h *LiveHandler) complete(c echo.Context) error {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid index")
	}
	h.coordinator(c.Param("id")).Complete(index)
	return c.NoContent(http.StatusOK)
}
