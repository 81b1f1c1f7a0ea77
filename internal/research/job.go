package research

import (
	"log"
	"strings"
	"time"

	"github.com/chrishadley1983/hadley-bricks-inventory-management-sub008/internal/models"
)

// Job tracking. Every run creates one ResearchJob row and finalizes it
// exactly once, either completed or failed.

func (s *Service) startJob() (*models.ResearchJob, error) {
	job := models.ResearchJob{
		JobType:   "market_research",
		Status:    "running",
		StartedAt: time.Now(),
	}
	if err := s.db.Create(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *Service) completeJob(job *models.ResearchJob, summary RunSummary) error {
	now := time.Now()
	return s.db.Model(job).Updates(map[string]interface{}{
		"status":           "completed",
		"items_processed":  summary.ItemsProcessed,
		"items_researched": summary.ItemsResearched,
		"items_cached":     summary.ItemsCached,
		"items_errored":    summary.ItemsErrored,
		"errors":           strings.Join(summary.Errors, "\n"),
		"completed_at":     &now,
	}).Error
}

func (s *Service) failJob(job *models.ResearchJob, errs []string, partial RunSummary) {
	now := time.Now()
	err := s.db.Model(job).Updates(map[string]interface{}{
		"status":           "failed",
		"items_processed":  partial.ItemsProcessed,
		"items_researched": partial.ItemsResearched,
		"items_cached":     partial.ItemsCached,
		"items_errored":    partial.ItemsErrored,
		"errors":           strings.Join(errs, "\n"),
		"completed_at":     &now,
	}).Error
	if err != nil {
		log.Printf("[Research] failed to finalize job #%d as failed: %v", job.ID, err)
	}
}
