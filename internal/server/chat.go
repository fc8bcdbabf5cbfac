package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/samer-khoury/mizan/internal/chat"
	"github.com/samer-khoury/mizan/internal/fetch"
	"github.com/samer-khoury/mizan/models"
	"github.com/samer-khoury/mizan/provider"
	gemini_provider "github.com/samer-khoury/mizan/provider/gemini"
)

// ChatHandler serves the conversational surface: streamed sends, retries,
// research briefs, wizard completion and the onboarding steps.
type ChatHandler struct {
	Engine   *chat.Engine
	Provider provider.Provider
	Users    chat.Identity
	Resolver *fetch.TitleResolver
}

func (h *ChatHandler) Register(g *echo.Group, secret []byte) {
	g.Use(withAuth(secret))
	g.POST("/:id/send", h.send)
	g.POST("/:id/retry", h.retry)
	g.POST("/:id/brief", h.brief)
	g.POST("/:id/wizard/finalize", h.finalizeWizard)
	g.POST("/:id/onboarding/name", h.submitName)
	g.POST("/:id/onboarding/auth", h.resolveAuth)
}

// send appends the user turn and proxies the response stream to the client
// as SSE. Onboarding intercepts the turn: in the name-prompted state the
// message is the display name, and while the auth gate is open sends are
// rejected.
func (h *ChatHandler) send(c echo.Context) error {
	var req SendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Prompt == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "prompt required")
	}
	ctx := c.Request().Context()
	uid, sid := userID(c), c.Param("id")

	sess, err := h.Engine.Store().Get(ctx, uid, sid)
	if err != nil {
		return sessionError(err)
	}
	switch h.Engine.OnboardingState(sess) {
	case chat.StateNamePrompted:
		sess, err = h.Engine.SubmitName(ctx, h.Users, uid, sid, req.Prompt)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return c.JSON(http.StatusOK, SessionResponse{
			Session:    sess,
			Onboarding: string(h.Engine.OnboardingState(sess)),
		})
	case chat.StateAuthPrompted:
		return echo.NewHTTPError(http.StatusConflict, "awaiting authentication")
	}

	retry := models.RetryPrompt{
		Prompt:   req.Prompt,
		FileName: req.FileName,
		FileData: req.FileData,
		FileMIME: req.FileMIME,
	}
	return h.streamSend(c, uid, sid, retry, req.Grounded)
}

// retry deletes the stale error bubble and resubmits its retained prompt
// through the normal send path.
func (h *ChatHandler) retry(c echo.Context) error {
	var req RetryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	uid, sid := userID(c), c.Param("id")

	prompt, err := h.Engine.RemoveForRetry(ctx, uid, sid, req.TS)
	if err != nil {
		return sessionError(err)
	}
	return h.streamSend(c, uid, sid, *prompt, false)
}

func (h *ChatHandler) streamSend(c echo.Context, uid, sid string, retry models.RetryPrompt, grounded bool) error {
	ctx := c.Request().Context()

	sess, err := h.Engine.AppendMessage(ctx, uid, sid, models.Message{
		Role:    models.RoleUser,
		Content: retry.Prompt,
	})
	if err != nil {
		return sessionError(err)
	}

	history := make([]gemini_provider.ChatMessage, 0, len(sess.Messages))
	for i := range sess.Messages[:len(sess.Messages)-1] {
		msg := &sess.Messages[i]
		if msg.Type == models.MessageAuthPrompt || msg.Error {
			continue
		}
		history = append(history, gemini_provider.ChatMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	texReq := gemini_provider.TextRequest{
		History:  history,
		Prompt:   retry.Prompt,
		Grounded: grounded,
	}
	if retry.FileData != "" {
		texReq.File = &gemini_provider.FileAttachment{
			Name: retry.FileName,
			MIME: retry.FileMIME,
			Data: retry.FileData,
		}
	}

	source := func(ctx context.Context, push chat.PushFunc) error {
		return h.Provider.GenerateText(ctx, texReq, gemini_provider.StreamCallbacks{
			OnChunk: func(text string) error {
				return push(chat.StreamEvent{Type: chat.EventChunk, Chunk: text})
			},
			OnSources: func(sources []models.Source) error {
				if h.Resolver != nil {
					h.Resolver.Resolve(ctx, sources)
				}
				return push(chat.StreamEvent{Type: chat.EventSources, Sources: sources})
			},
			OnComplete: func(suggested []string) error {
				return push(chat.StreamEvent{Type: chat.EventComplete, SuggestedReplies: suggested})
			},
		})
	}

	sse := newSSEWriter(c)
	result, err := h.Engine.StreamToMessage(ctx, uid, sid, retry, source, func(msg models.Message) {
		sse.send("message", msg)
	})
	if err != nil {
		if errors.Is(err, chat.ErrStreamActive) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return sessionError(err)
	}
	done := map[string]any{
		"completed": result.Completed,
		"type":      result.Type,
	}
	if result.Err != nil {
		done["error"] = result.Err.Error()
	}
	sse.send("done", done)
	return nil
}

func (h *ChatHandler) brief(c echo.Context) error {
	var req BriefRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Issue == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "issue required")
	}
	ctx := c.Request().Context()
	uid, sid := userID(c), c.Param("id")

	if _, err := h.Engine.AppendMessage(ctx, uid, sid, models.Message{
		Role:    models.RoleUser,
		Content: req.Issue,
	}); err != nil {
		return sessionError(err)
	}

	retry := models.RetryPrompt{Prompt: req.Issue}
	sess, err := h.Engine.AttachBrief(ctx, uid, sid, retry, func(ctx context.Context) (*models.ResearchBundle, error) {
		return h.Provider.GenerateResearchBrief(ctx, req.Issue)
	})
	if err != nil {
		if errors.Is(err, chat.ErrStreamActive) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return sessionError(err)
	}
	return c.JSON(http.StatusOK, SessionResponse{
		Session:    sess,
		Onboarding: string(h.Engine.OnboardingState(sess)),
	})
}

func (h *ChatHandler) finalizeWizard(c echo.Context) error {
	var req WizardFinalizeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sess, err := h.Engine.FinalizeWizard(c.Request().Context(), userID(c), c.Param("id"), req.TS, req.Values)
	if err != nil {
		return sessionError(err)
	}
	return c.JSON(http.StatusOK, SessionResponse{
		Session:    sess,
		Onboarding: string(h.Engine.OnboardingState(sess)),
	})
}

func (h *ChatHandler) submitName(c echo.Context) error {
	var req NameRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sess, err := h.Engine.SubmitName(c.Request().Context(), h.Users, userID(c), c.Param("id"), req.Name)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, SessionResponse{
		Session:    sess,
		Onboarding: string(h.Engine.OnboardingState(sess)),
	})
}

func (h *ChatHandler) resolveAuth(c echo.Context) error {
	var req AuthResolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sess, err := h.Engine.ResolveAuth(c.Request().Context(), h.Users, userID(c), c.Param("id"), chat.AuthResolution{
		Guest: req.Guest,
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, SessionResponse{
		Session:    sess,
		Onboarding: string(h.Engine.OnboardingState(sess)),
	})
}

// sseWriter streams JSON events over a text/event-stream response.
type sseWriter struct {
	c       echo.Context
	started bool
}

func newSSEWriter(c echo.Context) *sseWriter {
	return &sseWriter{c: c}
}

func (w *sseWriter) send(event string, payload any) {
	if !w.started {
		h := w.c.Response().Header()
		h.Set(echo.HeaderContentType, "text/event-stream")
		h.Set(echo.HeaderCacheControl, "no-cache")
		h.Set("Connection", "keep-alive")
		w.c.Response().WriteHeader(http.StatusOK)
		w.started = true
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w.c.Response(), "event: %s\ndata: %s\n\n", event, data)
	w.c.Response().Flush()
}
