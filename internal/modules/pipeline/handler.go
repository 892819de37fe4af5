package pipeline

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/echocast/core/internal/models"
	"github.com/echocast/core/internal/pkg/response"
)

// Handler exposes the pipeline control surface and retrieval API.
type Handler struct {
	svc *Service
	db  *gorm.DB
}

func NewHandler(svc *Service, db *gorm.DB) *Handler {
	return &Handler{svc: svc, db: db}
}

// Register mounts public read routes on r and control routes on admin.
func (h *Handler) Register(r, admin *gin.RouterGroup) {
	r.GET("/presets", h.listPresets)
	r.GET("/threads", h.listThreads)
	r.GET("/sessions", h.listSessions)
	r.GET("/sessions/:id/queue", h.queueStatus)
	r.GET("/sessions/:id/transcript", h.transcript)
	r.GET("/narrations", h.listNarrations)
	r.GET("/items", h.listItems)

	admin.POST("/sessions", h.startSession)
	admin.DELETE("/sessions/:id", h.stopSession)
	admin.POST("/sessions/:id/items", h.processItem)
	admin.DELETE("/sessions/:id/queue", h.clearQueue)
	admin.PUT("/presets", h.setPreset)
}

type startSessionBody struct {
	SessionID string `json:"session_id"`
}

func (h *Handler) startSession(c *gin.Context) {
	var body startSessionBody
	_ = c.ShouldBindJSON(&body)

	id, err := h.svc.Start(body.SessionID)
	if err != nil {
		if errors.Is(err, ErrEmergencyActive) {
			response.ServiceUnavailable(c, "emergency shutdown is active")
			return
		}
		response.InternalError(c, err)
		return
	}
	response.Created(c, gin.H{"session_id": id})
}

func (h *Handler) stopSession(c *gin.Context) {
	if err := h.svc.Stop(c.Param("id")); err != nil {
		response.NotFoundMsg(c, "session not found")
		return
	}
	response.NoContent(c)
}

func (h *Handler) processItem(c *gin.Context) {
	var item ContentItem
	if err := c.ShouldBindJSON(&item); err != nil {
		response.BadRequest(c, "invalid content item: "+err.Error())
		return
	}
	if item.Title == "" && item.Body == "" {
		response.UnprocessableEntity(c, "title or body is required")
		return
	}

	res, err := h.svc.ProcessItem(c.Request.Context(), c.Param("id"), item)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		response.NotFoundMsg(c, "session not found")
	case errors.Is(err, ErrIngestionPaused):
		response.ServiceUnavailable(c, "ingestion is paused")
	case errors.Is(err, ErrEmergencyActive):
		response.ServiceUnavailable(c, "emergency shutdown is active")
	case err != nil:
		response.InternalError(c, err)
	default:
		response.Accepted(c, res)
	}
}

func (h *Handler) queueStatus(c *gin.Context) {
	status, err := h.svc.Status(c.Param("id"))
	if err != nil {
		response.NotFoundMsg(c, "session not found")
		return
	}
	response.OK(c, status)
}

func (h *Handler) clearQueue(c *gin.Context) {
	dropped, err := h.svc.ClearQueue(c.Param("id"))
	if err != nil {
		response.NotFoundMsg(c, "session not found")
		return
	}
	response.OK(c, gin.H{"dropped": dropped})
}

func (h *Handler) transcript(c *gin.Context) {
	text, err := h.svc.Transcript(c.Param("id"))
	if err != nil {
		response.NotFoundMsg(c, "session not found")
		return
	}
	response.OK(c, gin.H{"session_id": c.Param("id"), "transcript": text})
}

func (h *Handler) listPresets(c *gin.Context) {
	response.OK(c, gin.H{
		"presets": PresetNames(),
		"active":  h.svc.Preset(),
	})
}

type setPresetBody struct {
	Name string `json:"name" binding:"required"`
}

func (h *Handler) setPreset(c *gin.Context) {
	var body setPresetBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "preset name is required")
		return
	}
	if err := h.svc.SetPreset(body.Name); err != nil {
		response.UnprocessableEntity(c, err.Error())
		return
	}
	response.OK(c, gin.H{"active": body.Name})
}

func (h *Handler) listThreads(c *gin.Context) {
	threads := h.svc.Threads()
	response.OK(c, threads)
}

func (h *Handler) listNarrations(c *gin.Context) {
	if h.db == nil {
		response.OK(c, []models.NarrationModel{})
		return
	}
	page, size := pageParams(c)

	query := h.db.Model(&models.NarrationModel{})
	if sid := c.Query("session_id"); sid != "" {
		query = query.Where("session_id = ?", sid)
	}

	var total int64
	query.Count(&total)

	var rows []models.NarrationModel
	if err := query.Order("created_at DESC").Offset((page - 1) * size).Limit(size).Find(&rows).Error; err != nil {
		response.InternalError(c, err)
		return
	}
	response.Paged(c, rows, paginationFor(total, page, size))
}

func (h *Handler) listItems(c *gin.Context) {
	if h.db == nil {
		response.OK(c, []models.ContentItemModel{})
		return
	}
	page, size := pageParams(c)

	query := h.db.Model(&models.ContentItemModel{})
	if c.Query("duplicates") == "true" {
		query = query.Where("duplicate = ?", true)
	}

	var total int64
	query.Count(&total)

	var rows []models.ContentItemModel
	if err := query.Order("created_at DESC").Offset((page - 1) * size).Limit(size).Find(&rows).Error; err != nil {
		response.InternalError(c, err)
		return
	}
	response.Paged(c, rows, paginationFor(total, page, size))
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	return page, size
}

func paginationFor(total int64, page, size int) response.Pagination {
	totalPage := int((total + int64(size) - 1) / int64(size))
	return response.Pagination{
		Total:       total,
		CurrentPage: page,
		TotalPage:   totalPage,
		Size:        size,
		HasNextPage: page < totalPage,
	}
}

// sessionSummary is the list view of persisted sessions.
type sessionSummary struct {
	SessionID  string     `json:"session_id"`
	StartedAt  time.Time  `json:"started_at"`
	StoppedAt  *time.Time `json:"stopped_at,omitempty"`
	Narrations int        `json:"narrations"`
	Active     bool       `json:"active"`
}

// listSessions merges persisted sessions with live registry state.
func (h *Handler) listSessions(c *gin.Context) {
	active := make(map[string]bool)
	for _, id := range h.svc.Sessions() {
		active[id] = true
	}

	if h.db == nil {
		out := make([]sessionSummary, 0, len(active))
		for id := range active {
			out = append(out, sessionSummary{SessionID: id, Active: true})
		}
		response.OK(c, out)
		return
	}

	var rows []models.SessionModel
	if err := h.db.Order("started_at DESC").Limit(100).Find(&rows).Error; err != nil {
		response.InternalError(c, err)
		return
	}
	out := make([]sessionSummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, sessionSummary{
			SessionID:  row.SessionID,
			StartedAt:  row.StartedAt,
			StoppedAt:  row.StoppedAt,
			Narrations: row.Narrations,
			Active:     active[row.SessionID],
		})
	}
	response.OK(c, out)
}
