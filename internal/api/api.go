package api

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/chrishadley1983/hadley-bricks-inventory-management-sub008/internal/export"
	"github.com/chrishadley1983/hadley-bricks-inventory-management-sub008/internal/models"
	"github.com/chrishadley1983/hadley-bricks-inventory-management-sub008/internal/research"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type APIHandler struct {
	db       *gorm.DB
	research *research.Service
	hub      *ProgressHub

	jobMu  sync.Mutex
	status runStatus
}

// runStatus mirrors the in-flight run for the status endpoint.
type runStatus struct {
	Running    bool                 `json:"running"`
	JobID      uint                 `json:"job_id,omitempty"`
	Stage      string               `json:"stage,omitempty"`
	Current    int                  `json:"current"`
	Total      int                  `json:"total"`
	Label      string               `json:"label,omitempty"`
	StartedAt  *time.Time           `json:"started_at,omitempty"`
	FinishedAt *time.Time           `json:"finished_at,omitempty"`
	Summary    *research.RunSummary `json:"summary,omitempty"`
}

func SetupRoutes(r *gin.RouterGroup, db *gorm.DB, svc *research.Service, hub *ProgressHub) *APIHandler {
	handler := &APIHandler{db: db, research: svc, hub: hub}

	res := r.Group("/research")
	{
		res.POST("/start", handler.StartResearch)
		res.GET("/status", handler.ResearchStatus)
		res.GET("/jobs", handler.ListResearchJobs)
		res.POST("/refresh/:set", handler.ForceRefresh)
		res.GET("/export", handler.ExportResearch)
	}

	r.GET("/sets", handler.ListSets)
	r.GET("/purchases", handler.ListPurchases)

	return handler
}

type startResearchRequest struct {
	SetNumbers []string `json:"set_numbers"`
}

func (h *APIHandler) StartResearch(c *gin.Context) {
	var req startResearchRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	h.jobMu.Lock()
	if h.status.Running {
		st := h.status
		h.jobMu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": "research run already in progress", "status": st})
		return
	}
	now := time.Now()
	h.status = runStatus{Running: true, StartedAt: &now}
	h.jobMu.Unlock()

	go h.runResearch(req.SetNumbers)
	c.JSON(http.StatusOK, gin.H{"code": 200, "msg": "started"})
}

func (h *APIHandler) runResearch(setNumbers []string) {
	progress := func(p research.Progress) {
		h.jobMu.Lock()
		h.status.Stage = p.Stage
		h.status.Current = p.Current
		h.status.Total = p.Total
		h.status.Label = p.Label
		h.jobMu.Unlock()
		h.hub.Broadcast(p)
	}

	summary, err := h.research.Run(context.Background(), research.RunOptions{
		SetNumbers: setNumbers,
		Progress:   progress,
	})

	h.jobMu.Lock()
	h.status.Running = false
	now := time.Now()
	h.status.FinishedAt = &now
	if summary != nil {
		h.status.JobID = summary.JobID
		h.status.Summary = summary
	}
	h.jobMu.Unlock()

	if err != nil {
		log.Printf("[API] research run failed: %v", err)
		h.hub.Broadcast(gin.H{"stage": "failed", "error": err.Error()})
		return
	}
	h.hub.Broadcast(gin.H{"stage": "completed", "summary": summary})
}

func (h *APIHandler) ResearchStatus(c *gin.Context) {
	h.jobMu.Lock()
	st := h.status
	h.jobMu.Unlock()
	c.JSON(http.StatusOK, gin.H{"code": 200, "status": st})
}

func (h *APIHandler) ListResearchJobs(c *gin.Context) {
	var jobs []models.ResearchJob
	if err := h.db.Order("id desc").Limit(50).Find(&jobs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "jobs": jobs})
}

func (h *APIHandler) ForceRefresh(c *gin.Context) {
	setNumber := c.Param("set")

	h.jobMu.Lock()
	if h.status.Running {
		h.jobMu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": "research run already in progress"})
		return
	}
	h.jobMu.Unlock()

	set, err := h.research.ForceRefresh(c.Request.Context(), setNumber)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "set": set})
}

func (h *APIHandler) ExportResearch(c *gin.Context) {
	f, err := export.BuildResearchReport(h.db)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	filename := "market-research-" + time.Now().Format("2006-01-02") + ".xlsx"
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if err := f.Write(c.Writer); err != nil {
		log.Printf("[API] export write failed: %v", err)
	}
}

func (h *APIHandler) ListSets(c *gin.Context) {
	var sets []models.BricksetSet
	q := h.db.Order("set_number")
	if theme := c.Query("theme"); theme != "" {
		q = q.Where("theme = ?", theme)
	}
	if c.Query("meets_threshold") == "true" {
		q = q.Where("meets_threshold = ?", true)
	}
	if err := q.Limit(500).Find(&sets).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "sets": sets})
}

func (h *APIHandler) ListPurchases(c *gin.Context) {
	var purchases []models.Purchase
	if err := h.db.Order("purchased_at desc").Limit(200).Find(&purchases).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "purchases": purchases})
}
