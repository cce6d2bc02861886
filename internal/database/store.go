// Package database persists brew statistics and the execution history.
package database

import (
	"context"
	"fmt"
	"sync"

	"github.com/jinzhu/gorm"
	"go.uber.org/zap"

	"barista/internal/models"
)

// DefaultHistoryLimit caps ListExecutions when no limit is given
const DefaultHistoryLimit = 50

// History stores finished recipe runs
type History interface {
	RecordExecution(ctx context.Context, exec *models.RecipeExecution) error
	ListExecutions(ctx context.Context, limit int) ([]models.RecipeExecution, error)
}

// GormStore keeps statistics and history in a SQL database
type GormStore struct {
	db  *gorm.DB
	log *zap.SugaredLogger
	mu  sync.Mutex
}

// NewGormStore creates a store on an opened database
func NewGormStore(db *gorm.DB, log *zap.SugaredLogger) *GormStore {
	return &GormStore{db: db, log: log}
}

// Load returns the stored statistics, or nil when none were saved yet
func (s *GormStore) Load(ctx context.Context) (*models.BrewStatistics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec models.BrewStatsRecord
	err := s.db.Order("id asc").First(&rec).Error
	if gorm.IsRecordNotFoundError(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load brew statistics: %w", err)
	}
	return rec.ToStatistics(), nil
}

// Save upserts the single statistics row
func (s *GormStore) Save(ctx context.Context, stats *models.BrewStatistics) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec models.BrewStatsRecord
	err := s.db.Order("id asc").First(&rec).Error
	if err != nil && !gorm.IsRecordNotFoundError(err) {
		return fmt.Errorf("failed to load brew statistics: %w", err)
	}
	rec.Apply(stats)
	if err := s.db.Save(&rec).Error; err != nil {
		return fmt.Errorf("failed to save brew statistics: %w", err)
	}
	s.log.Debugw("saved brew statistics", "last_recipe", stats.LastRecipeName)
	return nil
}

// RecordExecution appends a finished run to the history
func (s *GormStore) RecordExecution(ctx context.Context, exec *models.RecipeExecution) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.Create(exec).Error; err != nil {
		return fmt.Errorf("failed to record execution of %q: %w", exec.RecipeName, err)
	}
	return nil
}

// ListExecutions returns the most recent runs, newest first
func (s *GormStore) ListExecutions(ctx context.Context, limit int) ([]models.RecipeExecution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	var out []models.RecipeExecution
	if err := s.db.Order("end_time desc").Order("id desc").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	return out, nil
}
