package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"barista/internal/database"
	"barista/internal/executor"
	"barista/internal/models"
	"barista/internal/recipes"
)

// maxRecipeBody caps the size of an uploaded recipe document
const maxRecipeBody = 256 << 10

// StatusResponse is the body of GET /status
type StatusResponse struct {
	State    models.ExecutionState `json:"state"`
	Progress models.RunProgress    `json:"progress"`
}

// RecipeView is a recipe as listed by the API
type RecipeView struct {
	models.Recipe
	Summary string `json:"summary"`
}

// ExecutionView is one history row as served by the API
type ExecutionView struct {
	ID         uint      `json:"id"`
	Recipe     string    `json:"recipe"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	FailedStep int       `json:"failed_step,omitempty"`
	TotalSteps int       `json:"total_steps"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	Seconds    float64   `json:"duration_seconds"`
}

// BrewRequest is the body of POST /brew
type BrewRequest struct {
	Recipe string `json:"recipe" binding:"required"`
}

// Executor handlers

func (s *Server) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{State: s.exec.State(), Progress: s.exec.Progress()})
}

func (s *Server) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.exec.Stats())
}

func (s *Server) Brew(c *gin.Context) {
	var req BrewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status, body := s.brew(c.Request.Context(), req.Recipe)
	c.JSON(status, body)
}

// brew starts a recipe by key or name and returns the response to send
func (s *Server) brew(ctx context.Context, keyOrName string) (int, gin.H) {
	recipe, ok := s.recipes.Lookup(keyOrName)
	if !ok {
		available := s.recipes.Names()
		s.log.Errorw("recipe not found", "recipe", keyOrName, "available", available)
		_ = s.notifier.Notify(ctx, s.title,
			fmt.Sprintf("Recipe not found: '%s'\nAvailable: %s", keyOrName, strings.Join(available, ", ")))
		return http.StatusNotFound, gin.H{"error": "recipe not found", "recipe": keyOrName, "available": available}
	}

	if err := s.exec.Brew(ctx, recipe.Name, recipe.Steps); err != nil {
		if errors.Is(err, executor.ErrClosed) {
			return http.StatusServiceUnavailable, gin.H{"error": err.Error()}
		}
		return http.StatusConflict, gin.H{"error": err.Error()}
	}
	return http.StatusAccepted, gin.H{"message": "Recipe started", "recipe": recipe.Name, "key": recipe.Key}
}

func (s *Server) Abort(c *gin.Context) {
	s.exec.Abort(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"message": "Recipe aborted", "state": s.exec.State()})
}

// Recipe handlers

func (s *Server) ListRecipes(c *gin.Context) {
	all := s.recipes.All()
	out := make([]RecipeView, 0, len(all))
	for _, recipe := range all {
		out = append(out, RecipeView{Recipe: recipe, Summary: recipes.Summary(recipe)})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) GetRecipe(c *gin.Context) {
	key := c.Param("key")
	recipe, ok := s.recipes.Get(key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "recipe not found", "recipe": key, "available": s.recipes.Names()})
		return
	}
	c.JSON(http.StatusOK, RecipeView{Recipe: recipe, Summary: recipes.Summary(recipe)})
}

func (s *Server) SaveRecipe(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRecipeBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	recipe, err := recipes.ParseRecipe(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if recipe.Key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recipe name must contain a letter or digit"})
		return
	}

	if err := s.recipes.Save(recipe.Key, recipe); err != nil {
		s.log.Errorw("failed to save recipe", "recipe", recipe.Name, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.log.Infow("recipe saved", "recipe", recipe.Name, "key", recipe.Key)

	saved, _ := s.recipes.Get(recipe.Key)
	c.JSON(http.StatusCreated, RecipeView{Recipe: saved, Summary: recipes.Summary(saved)})
}

func (s *Server) DeleteRecipe(c *gin.Context) {
	key := c.Param("key")
	if err := s.recipes.Delete(key); err != nil {
		if errors.Is(err, recipes.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "recipe not found", "recipe": key})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Recipe deleted", "recipe": key})
}

func (s *Server) ReloadRecipes(c *gin.Context) {
	if err := s.recipes.Load(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.log.Infow("recipes reloaded")
	c.JSON(http.StatusOK, gin.H{"message": "Recipes reloaded", "recipes": s.recipes.Names()})
}

// History handlers

func (s *Server) ListExecutions(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "execution history is not configured"})
		return
	}

	limit := database.DefaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}

	rows, err := s.history.ListExecutions(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]ExecutionView, 0, len(rows))
	for _, row := range rows {
		out = append(out, ExecutionView{
			ID:         row.ID,
			Recipe:     row.RecipeName,
			Status:     row.Status,
			Reason:     row.Reason,
			FailedStep: row.FailedStep,
			TotalSteps: row.TotalSteps,
			StartTime:  row.StartTime,
			EndTime:    row.EndTime,
			Seconds:    row.EndTime.Sub(row.StartTime).Seconds(),
		})
	}
	c.JSON(http.StatusOK, out)
}
