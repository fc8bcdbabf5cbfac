package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/samer-khoury/mizan/internal/chat"
	"github.com/samer-khoury/mizan/internal/export"
	"github.com/samer-khoury/mizan/internal/identity"
	"github.com/samer-khoury/mizan/models"
)

// SessionsHandler serves the consultation-thread surface: listing, creation,
// selection, deletion, search and export.
type SessionsHandler struct {
	Engine *chat.Engine
	Index  *chat.SearchIndex
	Users  *identity.Store
}

func (h *SessionsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(withAuth(secret))
	g.GET("", h.list)
	g.POST("", h.create)
	g.DELETE("", h.clearAll)
	g.GET("/search", h.search)
	g.GET("/:id", h.get)
	g.DELETE("/:id", h.remove)
	g.POST("/:id/select", h.selectCurrent)
	g.GET("/:id/export", h.export)
	g.DELETE("/:id/messages/:ts", h.removeMessage)
}

func (h *SessionsHandler) list(c echo.Context) error {
	ctx := c.Request().Context()
	uid := userID(c)
	sessions, err := h.Engine.Store().List(ctx, uid)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	order, err := h.Engine.Store().Order(ctx, uid)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	current, _ := h.Engine.Store().Current(ctx, uid)

	out := make([]SessionSummary, 0, len(sessions))
	seen := make(map[string]bool, len(sessions))
	for _, id := range order {
		if sess, ok := sessions[id]; ok {
			out = append(out, summarize(sess, current))
			seen[id] = true
		}
	}
	// sessions missing from the order list still appear, at the end
	for id, sess := range sessions {
		if !seen[id] {
			out = append(out, summarize(sess, current))
		}
	}
	return c.JSON(http.StatusOK, out)
}

func summarize(sess *models.Session, current string) SessionSummary {
	return SessionSummary{
		ID:        sess.ID,
		Title:     sess.Title,
		CreatedAt: sess.CreatedAt.Format(time.RFC3339),
		Messages:  len(sess.Messages),
		Current:   sess.ID == current,
	}
}

func (h *SessionsHandler) create(c echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	uid := userID(c)

	name, err := h.Users.Name(ctx, uid)
	if err != nil && !errors.Is(err, identity.ErrNotFound) {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	meta := models.SessionMeta{
		ServiceCode: req.ServiceCode,
		Persona:     models.Persona(req.Persona),
	}
	sess, err := h.Engine.CreateSession(ctx, uid, name, meta)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, SessionResponse{
		Session:    sess,
		Onboarding: string(h.Engine.OnboardingState(sess)),
	})
}

func (h *SessionsHandler) get(c echo.Context) error {
	sess, err := h.Engine.Store().Get(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return sessionError(err)
	}
	return c.JSON(http.StatusOK, SessionResponse{
		Session:    sess,
		Onboarding: string(h.Engine.OnboardingState(sess)),
	})
}

func (h *SessionsHandler) remove(c echo.Context) error {
	ctx := c.Request().Context()
	uid, id := userID(c), c.Param("id")
	if err := h.Engine.Store().Delete(ctx, uid, id); err != nil {
		return sessionError(err)
	}
	h.Index.RemoveSession(id)
	return c.NoContent(http.StatusNoContent)
}

func (h *SessionsHandler) clearAll(c echo.Context) error {
	if err := h.Engine.ClearAll(c.Request().Context(), userID(c)); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *SessionsHandler) selectCurrent(c echo.Context) error {
	ctx := c.Request().Context()
	uid, id := userID(c), c.Param("id")
	if _, err := h.Engine.Store().Get(ctx, uid, id); err != nil {
		return sessionError(err)
	}
	if err := h.Engine.Store().SetCurrent(ctx, uid, id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

func (h *SessionsHandler) removeMessage(c echo.Context) error {
	var ts int64
	if _, err := fmt.Sscanf(c.Param("ts"), "%d", &ts); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid ts")
	}
	sess, err := h.Engine.DeleteMessage(c.Request().Context(), userID(c), c.Param("id"), ts)
	if err != nil {
		return sessionError(err)
	}
	return c.JSON(http.StatusOK, SessionResponse{
		Session:    sess,
		Onboarding: string(h.Engine.OnboardingState(sess)),
	})
}

func (h *SessionsHandler) search(c echo.Context) error {
	q := c.QueryParam("q")
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q required")
	}
	hits, err := h.Index.Search(userID(c), q, 20)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := SearchResponse{Hits: make([]SearchHitResponse, 0, len(hits))}
	for _, hit := range hits {
		resp.Hits = append(resp.Hits, SearchHitResponse{
			SessionID:    hit.SessionID,
			SessionTitle: hit.SessionTitle,
			TS:           hit.TS,
			Role:         hit.Role,
			Snippet:      hit.Snippet,
			Score:        hit.Score,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *SessionsHandler) export(c echo.Context) error {
	format := c.QueryParam("format")
	if format == "" {
		format = "json"
	}
	exporter, err := export.NewExporter(format)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sess, err := h.Engine.Store().Get(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return sessionError(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=%s.%s", sess.ID, exporter.Extension()))
	contentType := echo.MIMEApplicationJSON
	if format != "json" {
		contentType = echo.MIMETextPlainCharsetUTF8
	}
	c.Response().Header().Set(echo.HeaderContentType, contentType)
	c.Response().WriteHeader(http.StatusOK)
	return exporter.Export(sess, c.Response())
}

func sessionError(err error) error {
	switch {
	case errors.Is(err, models.ErrSessionNotFound), errors.Is(err, models.ErrMessageNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
