package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/jinzhu/gorm"
)

// RecipeExecution represents a single finished run of a recipe
type RecipeExecution struct {
	gorm.Model
	RecipeName string `gorm:"index"`
	StartTime  time.Time
	EndTime    time.Time
	Status     string
	Reason     string `gorm:"type:text"`
	FailedStep int
	TotalSteps int
}

// TableName sets the table name for RecipeExecution
func (RecipeExecution) TableName() string {
	return "recipe_executions"
}

// ExecutionStatus represents how a recipe execution ended
type ExecutionStatus string

const (
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusAborted   ExecutionStatus = "aborted"
)

// CountMap represents a recipe-name -> count map stored as JSON text
type CountMap map[string]int

// Value converts the map to a JSON string for storage
func (m CountMap) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(map[string]int(m))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan converts the database value back to a map
func (m *CountMap) Scan(value interface{}) error {
	if value == nil {
		*m = CountMap{}
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, (*map[string]int)(m))
	case string:
		return json.Unmarshal([]byte(v), (*map[string]int)(m))
	default:
		return errors.New("unsupported type for CountMap")
	}
}

// BrewStatsRecord is the durable row behind BrewStatistics.
// There is only ever one row.
type BrewStatsRecord struct {
	gorm.Model
	LastRecipe      string
	LastCompletedAt *time.Time
	BrewCount       CountMap `gorm:"type:text"`
}

// TableName sets the table name for BrewStatsRecord
func (BrewStatsRecord) TableName() string {
	return "brew_stats"
}

// ToStatistics converts the row to the in-memory form
func (r *BrewStatsRecord) ToStatistics() *BrewStatistics {
	stats := NewBrewStatistics()
	stats.LastRecipeName = r.LastRecipe
	if r.LastCompletedAt != nil {
		stats.LastCompletedAt = *r.LastCompletedAt
	}
	for k, v := range r.BrewCount {
		stats.BrewCount[k] = v
	}
	return stats
}

// Apply copies statistics into the row
func (r *BrewStatsRecord) Apply(stats *BrewStatistics) {
	r.LastRecipe = stats.LastRecipeName
	if stats.LastCompletedAt.IsZero() {
		r.LastCompletedAt = nil
	} else {
		at := stats.LastCompletedAt
		r.LastCompletedAt = &at
	}
	r.BrewCount = CountMap{}
	for k, v := range stats.BrewCount {
		r.BrewCount[k] = v
	}
}
