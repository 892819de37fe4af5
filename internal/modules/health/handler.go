package health

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/echocast/core/internal/models"
	"github.com/echocast/core/internal/pkg/response"
)

// Handler exposes health status and the emergency reset endpoint.
type Handler struct {
	w  *Whistleblower
	db *gorm.DB
}

func NewHandler(w *Whistleblower, db *gorm.DB) *Handler {
	return &Handler{w: w, db: db}
}

// Register mounts read routes on r and the reset on admin.
func (h *Handler) Register(r, admin *gin.RouterGroup) {
	r.GET("/health", h.current)
	r.GET("/health/history", h.history)
	admin.POST("/health/reset", h.reset)
	admin.POST("/health/sample", h.sample)
}

func (h *Handler) current(c *gin.Context) {
	response.OK(c, h.w.Current())
}

func (h *Handler) history(c *gin.Context) {
	if c.Query("persisted") == "true" && h.db != nil {
		var rows []models.HealthReportModel
		if err := h.db.Order("created_at DESC").Limit(100).Find(&rows).Error; err != nil {
			response.InternalError(c, err)
			return
		}
		response.OK(c, rows)
		return
	}
	response.OK(c, h.w.History())
}

func (h *Handler) reset(c *gin.Context) {
	h.w.Reset()
	response.OK(c, gin.H{"status": string(h.w.Current().Status)})
}

// sample triggers an immediate evaluation outside the polling interval.
func (h *Handler) sample(c *gin.Context) {
	response.OK(c, h.w.Sample())
}
