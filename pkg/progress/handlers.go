package progress

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now()})
}

func (s *Server) getRunHandler(c *gin.Context) {
	scheduleID := c.Param("scheduleId")
	snap, ok := s.broadcaster.Snapshot(scheduleID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown schedule_id"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) streamRunHandler(c *gin.Context) {
	scheduleID := c.Param("scheduleId")
	if err := s.broadcaster.hub.serveWS(c.Writer, c.Request, scheduleID); err != nil {
		s.logger.Debug().Err(err).Str("schedule_id", scheduleID).Msg("progress: stream closed")
	}
}
