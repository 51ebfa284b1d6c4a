package statusapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) health(c *gin.Context) {
	if !s.ctl.Healthy() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "stalled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctl.Status())
}

func (s *Server) uploadStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctl.Stats())
}

func (s *Server) triggerUpload(c *gin.Context) {
	ok := s.ctl.TriggerUpload(c.Request.Context())
	stats := s.ctl.Stats()
	code := http.StatusOK
	if !ok {
		code = http.StatusBadGateway
	}
	c.JSON(code, gin.H{"success": ok, "upload": stats})
}

func (s *Server) getFlash(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"duty": s.ctl.Brightness()})
}

type flashRequest struct {
	Duty *int `json:"duty" binding:"required"`
}

func (s *Server) setFlash(c *gin.Context) {
	var req flashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if *req.Duty < 0 || *req.Duty > 255 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "duty must be within 0..255"})
		return
	}
	s.ctl.SetBrightness(uint8(*req.Duty))
	c.JSON(http.StatusOK, gin.H{"duty": s.ctl.Brightness()})
}
