package server

import (
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/kyleking/sqlchat/internal/agent"
	"github.com/kyleking/sqlchat/internal/chat"
	"github.com/kyleking/sqlchat/internal/datasource"
	"github.com/kyleking/sqlchat/internal/errors"
	"github.com/kyleking/sqlchat/internal/plot"
	"github.com/kyleking/sqlchat/internal/session"
)

// SourceHandler loads and describes data sources
type SourceHandler struct {
	Engine *chat.Engine
}

// Register mounts the source routes on g
func (h *SourceHandler) Register(g *echo.Group) {
	g.POST("/upload", h.upload)
	g.POST("/connect", h.connect)
	g.GET("/tables", h.tables)
	g.POST("/visualize", h.visualize)
}

type tablesResponse struct {
	Tables []string `json:"tables"`
}

// upload accepts multipart CSV files in the "files" field
func (h *SourceHandler) upload(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "expected a multipart form")
	}

	headers := form.File["files"]
	if len(headers) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no files uploaded")
	}

	dir, err := os.MkdirTemp("", "sqlchat-upload-*")
	if err != nil {
		return httpError(errors.Wrap(err, errors.ErrTypeFileSystem, "failed to stage upload"))
	}
	defer os.RemoveAll(dir)

	files := make([]datasource.CSVFile, 0, len(headers))

	for i, fh := range headers {
		name := filepath.Base(fh.Filename)
		if name == "." || name == string(filepath.Separator) || strings.TrimSpace(name) == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "uploaded file has no name")
		}

		// each file gets its own directory so identical names do not collide
		path := filepath.Join(dir, strconv.Itoa(i), name)
		if err := saveUpload(fh, path); err != nil {
			return httpError(err)
		}

		files = append(files, datasource.CSVFile{Name: name, Path: path})
	}

	tables, err := h.Engine.LoadCSVs(c.Request().Context(), files)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, tablesResponse{Tables: tables})
}

func saveUpload(fh *multipart.FileHeader, path string) error {
	src, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeFileSystem, "failed to read upload")
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errors.Wrap(err, errors.ErrTypeFileSystem, "failed to stage upload")
	}

	dst, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeFileSystem, "failed to stage upload")
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return errors.Wrap(err, errors.ErrTypeFileSystem, "failed to stage upload")
	}

	return nil
}

func (h *SourceHandler) connect(c echo.Context) error {
	var params datasource.Params
	if err := c.Bind(&params); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid connection parameters")
	}

	tables, err := h.Engine.Connect(c.Request().Context(), params)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, tablesResponse{Tables: tables})
}

func (h *SourceHandler) tables(c echo.Context) error {
	infos, err := h.Engine.Tables(c.Request().Context())
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"tables": infos})
}

type visualizeRequest struct {
	Table string `json:"table"`
	Chart string `json:"chart"`
	X     string `json:"x"`
	Y     string `json:"y"`
}

// visualize draws a quick chart of a table without the agent
func (h *SourceHandler) visualize(c echo.Context) error {
	var req visualizeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if req.Table == "" || req.X == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "table and x are required")
	}

	p, err := h.Engine.Visualize(c.Request().Context(), req.Table, strings.ToLower(req.Chart), req.X, req.Y)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"plot": p})
}

// ChatHandler serves the conversation, its results and stored snippets
type ChatHandler struct {
	Engine *chat.Engine
}

// Register mounts the chat routes on g
func (h *ChatHandler) Register(g *echo.Group) {
	g.POST("/chat", h.chat)
	g.GET("/history", h.history)
	g.DELETE("/history", h.clearHistory)
	g.GET("/last-result", h.lastResult)
	g.GET("/snippets", h.snippets)
	g.POST("/snippets/:id/run", h.runSnippet)
}

type chatRequest struct {
	Question string `json:"question"`
}

type chatResponse struct {
	Answer      string           `json:"answer"`
	Plot        *plot.Payload    `json:"plot,omitempty"`
	RenderError string           `json:"render_error,omitempty"`
	Failed      bool             `json:"failed,omitempty"`
	ToolCalls   []agent.ToolCall `json:"tool_calls,omitempty"`
}

func (h *ChatHandler) chat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if strings.TrimSpace(req.Question) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question is required")
	}

	reply, err := h.Engine.Ask(c.Request().Context(), req.Question)
	if err != nil {
		return httpError(err)
	}

	resp := chatResponse{
		Answer:    reply.Answer,
		Plot:      reply.Plot,
		Failed:    reply.Err != nil,
		ToolCalls: reply.ToolCalls,
	}

	if reply.RenderErr != nil {
		resp.RenderError = errors.UserMessage(reply.RenderErr)
	}

	return c.JSON(http.StatusOK, resp)
}

type historyResponse struct {
	SessionID string         `json:"session_id"`
	Turns     []session.Turn `json:"turns"`
}

func (h *ChatHandler) history(c echo.Context) error {
	sess := h.Engine.Session()

	turns := sess.Conversation()
	if turns == nil {
		turns = []session.Turn{}
	}

	return c.JSON(http.StatusOK, historyResponse{SessionID: sess.ID, Turns: turns})
}

func (h *ChatHandler) clearHistory(c echo.Context) error {
	h.Engine.Session().Reset()
	return c.NoContent(http.StatusNoContent)
}

type lastResultResponse struct {
	ExecutedSQL string   `json:"executed_sql"`
	Columns     []string `json:"columns"`
	Rows        [][]any  `json:"rows"`
	RowCount    int      `json:"row_count"`
}

func (h *ChatHandler) lastResult(c echo.Context) error {
	df, executed := h.Engine.Session().LastResult()
	if df == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no query has succeeded yet")
	}

	rows := df.Rows
	if rows == nil {
		rows = [][]any{}
	}

	return c.JSON(http.StatusOK, lastResultResponse{
		ExecutedSQL: executed,
		Columns:     df.Columns,
		Rows:        rows,
		RowCount:    df.Len(),
	})
}

func (h *ChatHandler) snippets(c echo.Context) error {
	snips := h.Engine.Session().Snippets()
	if snips == nil {
		snips = []session.Snippet{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"snippets": snips})
}

// runSnippet is the explicit user action that executes stored code. A run
// that fails still returns the snippet with its recorded output.
func (h *ChatHandler) runSnippet(c echo.Context) error {
	snip, err := h.Engine.RunSnippet(c.Request().Context(), c.Param("id"))
	if err != nil {
		if snip.ID == "" {
			return httpError(err)
		}

		return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
			"error":   errors.UserMessage(err),
			"snippet": snip,
		})
	}

	return c.JSON(http.StatusOK, snip)
}
