package database

import (
	"context"
	"time"

	"go.uber.org/zap"

	"barista/internal/executor"
	"barista/internal/models"
)

// HistoryRecorder writes one RecipeExecution row per finished run
type HistoryRecorder struct {
	history History
	log     *zap.SugaredLogger
}

// NewHistoryRecorder creates a recorder writing to history
func NewHistoryRecorder(history History, log *zap.SugaredLogger) *HistoryRecorder {
	return &HistoryRecorder{history: history, log: log}
}

// Run consumes executor events until the channel closes or ctx is done
func (h *HistoryRecorder) Run(ctx context.Context, events <-chan executor.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			exec := executionFor(ev)
			if exec == nil {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := h.history.RecordExecution(wctx, exec); err != nil {
				h.log.Errorw("failed to record execution", "recipe", ev.Recipe, "error", err)
			}
			cancel()
		}
	}
}

// executionFor maps a terminal event to a history row; other events map to nil
func executionFor(ev executor.Event) *models.RecipeExecution {
	var status models.ExecutionStatus
	switch ev.Kind {
	case executor.EventRecipeCompleted:
		status = models.ExecutionStatusCompleted
	case executor.EventRecipeFailed:
		status = models.ExecutionStatusFailed
	case executor.EventRecipeAborted:
		status = models.ExecutionStatusAborted
	default:
		return nil
	}

	exec := &models.RecipeExecution{
		RecipeName: ev.Recipe,
		StartTime:  ev.At.Add(-ev.Elapsed),
		EndTime:    ev.At,
		Status:     string(status),
		Reason:     ev.Reason,
		TotalSteps: ev.Total,
	}
	if status == models.ExecutionStatusFailed {
		exec.FailedStep = ev.Step
	}
	return exec
}
