// Package api serves stored studies over HTTP.
package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"alphabias/domain/core"
	"alphabias/domain/run"
	"alphabias/internal/errors"
	"alphabias/internal/report"
	"alphabias/ports"
)

// Launcher starts a study in the background.
type Launcher interface {
	Launch(ctx context.Context, channel string) (core.StudyID, error)
}

// StudyHandler handles study requests
type StudyHandler struct {
	repo     ports.StudyRepository
	launcher Launcher
}

// NewStudyHandler creates a new study handler. A nil launcher makes the API read-only.
func NewStudyHandler(repo ports.StudyRepository, launcher Launcher) *StudyHandler {
	return &StudyHandler{repo: repo, launcher: launcher}
}

// ListStudies returns study summaries, newest first
func (h *StudyHandler) ListStudies(c *gin.Context) {
	filters := ports.StudyFilters{
		Channel: c.Query("channel"),
		Status:  run.Status(c.Query("status")),
	}
	for name, dst := range map[string]*int{"limit": &filters.Limit, "offset": &filters.Offset} {
		if v := c.Query(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(c, errors.InvalidInput(name+" must be a non-negative integer"))
				return
			}
			*dst = n
		}
	}
	if filters.Limit == 0 {
		filters.Limit = 50
	}

	studies, err := h.repo.List(c.Request.Context(), filters)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"studies": studies, "count": len(studies)})
}

// GetStudy returns the full study record
func (h *StudyHandler) GetStudy(c *gin.Context) {
	rec, ok := h.load(c)
	if !ok {
		return
	}
	if c.Query("trials") != "true" {
		rec.Trials = nil
	}
	c.JSON(http.StatusOK, rec)
}

// GetReport renders the study report as HTML, or as markdown with ?format=md
func (h *StudyHandler) GetReport(c *gin.Context) {
	rec, ok := h.load(c)
	if !ok {
		return
	}
	if c.Query("format") == "md" {
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", report.Markdown(rec))
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", report.HTML(rec))
}

// StartStudy launches a study of the requested channel
func (h *StudyHandler) StartStudy(c *gin.Context) {
	if h.launcher == nil {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "studies cannot be started on this server"})
		return
	}
	var req struct {
		Channel string `json:"channel" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.InvalidInput("channel is required"))
		return
	}
	id, err := h.launcher.Launch(c.Request.Context(), req.Channel)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "channel": req.Channel, "status": run.StatusRunning})
}

func (h *StudyHandler) load(c *gin.Context) (*run.Record, bool) {
	id, err := core.ParseStudyID(c.Param("id"))
	if err != nil {
		writeError(c, errors.InvalidInput(err.Error()))
		return nil, false
	}
	rec, err := h.repo.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return rec, true
}

func writeError(c *gin.Context, err error) {
	c.JSON(errors.HTTPStatus(err), gin.H{"error": err.Error(), "code": errors.GetCode(err)})
}
