package server

import (
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/researcher/internal/agent"
	"github.com/mohammad-safakhou/researcher/internal/ingest"
	"github.com/mohammad-safakhou/researcher/session/index"
	"github.com/mohammad-safakhou/researcher/session/session_models"
	"go.uber.org/zap"
)

type handlers struct {
	svc    Researcher
	logger *zap.Logger
}

func (h *handlers) Register(g *echo.Group) {
	g.POST("/plan", h.plan)
	g.POST("/sessions", h.createSession)
	g.GET("/sessions", h.listSessions)
	g.GET("/sessions/search", h.searchSessions)
	g.GET("/sessions/:id", h.getSession)
	g.DELETE("/sessions/:id", h.deleteSession)
	g.POST("/sessions/:id/documents", h.uploadDocuments)
	g.POST("/sessions/:id/ask", h.ask)
}

type PlanRequest struct {
	Question  string   `json:"question"`
	Documents []string `json:"documents"`
}

type AskRequest struct {
	Question string `json:"question"`
}

type SessionResponse struct {
	ID          string           `json:"id"`
	ChatHistory []agent.ChatTurn `json:"chat_history"`
	Documents   []string         `json:"documents"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

type UploadResponse struct {
	Added    []string `json:"added"`
	Replaced []string `json:"replaced"`
}

// Plan
//
//	@Summary	Generate a research plan
//	@Tags		research
//	@Accept		json
//	@Produce	json
//	@Param		payload	body		PlanRequest	true	"Question and known document names"
//	@Success	200		{object}	map[string][]string
//	@Failure	400		{object}	map[string]string
//	@Failure	502		{object}	map[string]string
//	@Router		/api/plan [post]
func (h *handlers) plan(c echo.Context) error {
	var req PlanRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Question) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question required")
	}
	steps, err := h.svc.Plan(c.Request().Context(), req.Question, req.Documents)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string][]string{"plan": steps})
}

func (h *handlers) createSession(c echo.Context) error {
	id, err := h.svc.CreateSession(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]string{"id": id})
}

func (h *handlers) listSessions(c echo.Context) error {
	infos, err := h.svc.Sessions(c.Request().Context())
	if err != nil {
		return err
	}
	if infos == nil {
		infos = []session_models.Info{}
	}
	return c.JSON(http.StatusOK, infos)
}

// searchSessions finds past turns by full-text query: ?q=...&k=10
func (h *handlers) searchSessions(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q required")
	}
	k := 10
	if raw := c.QueryParam("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			return echo.NewHTTPError(http.StatusBadRequest, "k must be within [1, 100]")
		}
		k = n
	}
	hits, err := h.svc.SearchHistory(q, k)
	if err != nil {
		return err
	}
	if hits == nil {
		hits = []index.Hit{}
	}
	return c.JSON(http.StatusOK, hits)
}

func (h *handlers) getSession(c echo.Context) error {
	id := c.Param("id")
	st, err := h.svc.Session(c.Request().Context(), id)
	if err != nil {
		return err
	}
	history := st.History
	if history == nil {
		history = []agent.ChatTurn{}
	}
	return c.JSON(http.StatusOK, SessionResponse{
		ID:          id,
		ChatHistory: history,
		Documents:   st.Documents.Names(),
		UpdatedAt:   st.UpdatedAt,
	})
}

func (h *handlers) deleteSession(c echo.Context) error {
	if err := h.svc.DeleteSession(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Upload documents
//
//	@Summary	Upload documents into a chat session
//	@Tags		sessions
//	@Accept		multipart/form-data
//	@Produce	json
//	@Param		id		path		string	true	"Session ID"
//	@Param		files	formData	file	true	"One or more files"
//	@Success	200		{object}	UploadResponse
//	@Failure	400		{object}	map[string]string
//	@Failure	422		{object}	map[string]string
//	@Router		/api/sessions/{id}/documents [post]
func (h *handlers) uploadDocuments(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart form required")
	}
	files := form.File["files"]
	if len(files) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "files required")
	}

	sources := make([]ingest.Source, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		defer f.Close()
		sources = append(sources, ingest.Source{Name: filepath.Base(fh.Filename), Reader: f})
	}
	docs, err := ingest.ParseFiles(sources)
	if err != nil {
		return err
	}

	replaced, err := h.svc.AddDocuments(c.Request().Context(), c.Param("id"), docs)
	if err != nil {
		return err
	}
	h.logger.Info("documents uploaded",
		zap.String("session_id", c.Param("id")),
		zap.Int("files", len(docs)),
		zap.Strings("replaced", replaced),
	)
	if replaced == nil {
		replaced = []string{}
	}
	return c.JSON(http.StatusOK, UploadResponse{Added: docs.Names(), Replaced: replaced})
}

// Ask
//
//	@Summary		Ask a question in a chat session
//	@Description	Returns the display plan (or plan_error), the answer and up to five sources.
//	@Tags			research
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string		true	"Session ID"
//	@Param			payload	body		AskRequest	true	"Question"
//	@Success		200		{object}	research.AskResult
//	@Failure		400		{object}	map[string]string
//	@Failure		502		{object}	map[string]string
//	@Router			/api/sessions/{id}/ask [post]
func (h *handlers) ask(c echo.Context) error {
	var req AskRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Question) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question required")
	}
	res, err := h.svc.Ask(c.Request().Context(), c.Param("id"), req.Question)
	if err != nil {
		return err
	}
	if res.Sources == nil {
		res.Sources = []string{}
	}
	if res.Plan == nil {
		res.Plan = []string{}
	}
	return c.JSON(http.StatusOK, res)
}
