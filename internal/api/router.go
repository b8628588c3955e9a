package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// NewRouter wires the study endpoints. metrics and hub may be nil.
func NewRouter(studies *StudyHandler, hub *SSEHub, metrics http.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/studies", studies.ListStudies)
	r.POST("/studies", studies.StartStudy)
	r.GET("/studies/:id", studies.GetStudy)
	r.GET("/studies/:id/report", studies.GetReport)
	if hub != nil {
		r.GET("/events", hub.HandleSSE)
	}
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}
	return r
}
