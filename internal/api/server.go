// Package api is the HTTP and WebSocket surface of the recipe executor.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"barista/internal/database"
	"barista/internal/executor"
	"barista/internal/models"
	"barista/internal/notify"
)

// Executor is the part of the executor controller the API drives
type Executor interface {
	State() models.ExecutionState
	Progress() models.RunProgress
	Stats() *models.BrewStatistics
	Brew(ctx context.Context, name string, steps []models.Step) error
	Abort(ctx context.Context)
	SubscribeStates(buf int) (<-chan executor.StateChange, func())
	SubscribeEvents(buf int) (<-chan executor.Event, func())
}

// RecipeStore is the recipe collection the API serves
type RecipeStore interface {
	Load() error
	Names() []string
	Get(key string) (models.Recipe, bool)
	Lookup(keyOrName string) (models.Recipe, bool)
	All() []models.Recipe
	Save(key string, recipe models.Recipe) error
	Delete(key string) error
}

// Options configures a Server
type Options struct {
	Executor Executor
	Recipes  RecipeStore
	// History is optional; without it /executions answers 503
	History database.History
	// Notifier is told about brew requests for unknown recipes
	Notifier notify.Notifier
	// JWTSecret enables bearer token auth on /api when set
	JWTSecret   string
	NotifyTitle string
	Log         *zap.SugaredLogger
}

// Server represents the main API handler for the executor
type Server struct {
	Router *gin.Engine

	exec     Executor
	recipes  RecipeStore
	history  database.History
	notifier notify.Notifier
	title    string
	log      *zap.SugaredLogger
}

// NewServer creates a new API server instance
func NewServer(opts Options) *Server {
	router := gin.Default()

	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Func(func(context.Context, string, string) error { return nil })
	}
	title := opts.NotifyTitle
	if title == "" {
		title = executor.DefaultNotifyTitle
	}

	s := &Server{
		Router:   router,
		exec:     opts.Executor,
		recipes:  opts.Recipes,
		history:  opts.History,
		notifier: notifier,
		title:    title,
		log:      opts.Log,
	}
	s.setupRoutes(opts.JWTSecret)
	return s
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes(secret string) {
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "state": s.exec.State()})
	})

	v1 := s.Router.Group("/api/v1")
	if secret != "" {
		v1.Use(AuthMiddleware(secret))
	}
	{
		// Executor
		v1.GET("/status", s.GetStatus)
		v1.GET("/stats", s.GetStats)
		v1.POST("/brew", s.Brew)
		v1.POST("/abort", s.Abort)

		// Recipes
		v1.GET("/recipes", s.ListRecipes)
		v1.GET("/recipes/:key", s.GetRecipe)
		v1.POST("/recipes", s.SaveRecipe)
		v1.DELETE("/recipes/:key", s.DeleteRecipe)
		v1.POST("/recipes/reload", s.ReloadRecipes)

		// History
		v1.GET("/executions", s.ListExecutions)
	}

	ws := s.Router.Group("/ws")
	if secret != "" {
		ws.Use(AuthMiddleware(secret))
	}
	ws.GET("", s.handleWebSocket)
}
