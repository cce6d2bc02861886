// Package recipes loads, validates and saves the recipe collection.
package recipes

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"barista/internal/models"
)

// ErrNotFound is returned for an unknown recipe key
var ErrNotFound = errors.New("recipe not found")

var keyPattern = regexp.MustCompile(`[^a-z0-9_]`)

// KeyFor derives the storage key of a recipe from its display name
func KeyFor(name string) string {
	return strings.Trim(keyPattern.ReplaceAllString(strings.ToLower(name), "_"), "_")
}

// Storage is the recipe collection backed by a YAML file
type Storage struct {
	path string
	log  *zap.SugaredLogger

	mu      sync.RWMutex
	recipes map[string]models.Recipe
	order   []string
	hooks   []func()
}

// NewStorage creates a storage for the given file. Call Load before use.
func NewStorage(path string, log *zap.SugaredLogger) *Storage {
	return &Storage{
		path:    path,
		log:     log,
		recipes: make(map[string]models.Recipe),
	}
}

// Path returns the backing file
func (s *Storage) Path() string {
	return s.path
}

// Load reads the file, replacing the collection. A missing file is
// created with example recipes. Invalid recipes are logged and skipped.
func (s *Storage) Load() error {
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		s.log.Infow("no recipes file found, writing examples", "path", s.path)
		if err := s.writeExample(); err != nil {
			return err
		}
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read recipes file: %w", err)
	}

	loaded, order, errs := decode(data)
	for _, err := range errs {
		s.log.Errorw("invalid recipe", "error", err)
	}
	if loaded == nil {
		return fmt.Errorf("failed to parse recipes file %s: %w", s.path, errors.Join(errs...))
	}

	s.mu.Lock()
	s.recipes = loaded
	s.order = order
	s.mu.Unlock()

	s.log.Infow("loaded recipes", "count", len(order), "path", s.path)
	s.notifyChanged()
	return nil
}

// Names returns the recipe keys in file order
func (s *Storage) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Get returns the recipe stored under key
func (s *Storage) Get(key string) (models.Recipe, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recipe, ok := s.recipes[key]
	if !ok {
		return models.Recipe{}, false
	}
	recipe.Steps = models.CloneSteps(recipe.Steps)
	return recipe, true
}

// Lookup finds a recipe by key, falling back to its display name
func (s *Storage) Lookup(keyOrName string) (models.Recipe, bool) {
	if recipe, ok := s.Get(keyOrName); ok {
		return recipe, true
	}
	if recipe, ok := s.Get(KeyFor(keyOrName)); ok {
		return recipe, true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, key := range s.order {
		if recipe := s.recipes[key]; strings.EqualFold(recipe.Name, keyOrName) {
			recipe.Steps = models.CloneSteps(recipe.Steps)
			return recipe, true
		}
	}
	return models.Recipe{}, false
}

// All returns every recipe in file order
func (s *Storage) All() []models.Recipe {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Recipe, 0, len(s.order))
	for _, key := range s.order {
		recipe := s.recipes[key]
		recipe.Steps = models.CloneSteps(recipe.Steps)
		out = append(out, recipe)
	}
	return out
}

// Save adds or replaces a recipe and writes the file
func (s *Storage) Save(key string, recipe models.Recipe) error {
	if key == "" {
		key = KeyFor(recipe.Name)
	}
	if key == "" {
		return fmt.Errorf("recipe %q has no usable key", recipe.Name)
	}
	recipe.Key = key
	// round trip through the file shape so saved recipes obey the same rules as loaded ones
	normalized, err := normalize(key, fromRecipe(recipe))
	if err != nil {
		return err
	}

	s.mu.Lock()
	if _, exists := s.recipes[key]; !exists {
		s.order = append(s.order, key)
	}
	s.recipes[key] = normalized
	err = s.writeLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.log.Infow("saved recipe", "key", key, "name", recipe.Name)
	s.notifyChanged()
	return nil
}

// Delete removes a recipe and writes the file
func (s *Storage) Delete(key string) error {
	s.mu.Lock()
	if _, ok := s.recipes[key]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	delete(s.recipes, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	err := s.writeLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.log.Infow("deleted recipe", "key", key)
	s.notifyChanged()
	return nil
}

// OnChange registers fn to run after every load, save and delete
func (s *Storage) OnChange(fn func()) {
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

func (s *Storage) notifyChanged() {
	s.mu.RLock()
	hooks := append([]func(){}, s.hooks...)
	s.mu.RUnlock()
	for _, hook := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Warnw("recipe change hook panicked", "panic", r)
				}
			}()
			hook()
		}()
	}
}

func (s *Storage) writeLocked() error {
	list := make([]models.Recipe, 0, len(s.order))
	for _, key := range s.order {
		list = append(list, s.recipes[key])
	}
	data, err := encode(list)
	if err != nil {
		return err
	}
	return writeFile(s.path, data)
}

func (s *Storage) writeExample() error {
	data, err := encode(ExampleRecipes())
	if err != nil {
		return err
	}
	return writeFile(s.path, data)
}

// writeFile replaces path atomically
func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create recipes directory: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write recipes file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace recipes file: %w", err)
	}
	return nil
}

// decode parses a recipes file. It returns nil when the document itself
// is unreadable, and one error per skipped recipe.
func decode(data []byte) (map[string]models.Recipe, []string, []error) {
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, []error{err}
	}

	recipes := make(map[string]models.Recipe)
	var (
		order []string
		errs  []error
	)
	node := doc.Recipes
	if node.Kind == 0 || node.Tag == "!!null" {
		return recipes, order, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, nil, []error{fmt.Errorf("line %d: recipes must be a mapping", node.Line)}
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		var raw rawRecipe
		if err := node.Content[i+1].Decode(&raw); err != nil {
			errs = append(errs, fmt.Errorf("recipe %q: %w", key, err))
			continue
		}
		recipe, err := normalize(key, raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("recipe %q: %w", key, err))
			continue
		}
		if _, dup := recipes[key]; !dup {
			order = append(order, key)
		}
		recipes[key] = recipe
	}
	return recipes, order, errs
}

// encode writes recipes in the current file shape
func encode(list []models.Recipe) ([]byte, error) {
	mapping := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, recipe := range list {
		var value yaml.Node
		if err := value.Encode(fromRecipe(recipe)); err != nil {
			return nil, fmt.Errorf("failed to encode recipe %q: %w", recipe.Key, err)
		}
		mapping.Content = append(mapping.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: recipe.Key},
			&value,
		)
	}
	root := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map", Content: []*yaml.Node{
		{Kind: yaml.ScalarNode, Tag: "!!str", Value: "recipes"},
		mapping,
	}}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("failed to encode recipes: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParseFile validates a recipes file without loading it into a storage
func ParseFile(path string) ([]models.Recipe, []error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, []error{fmt.Errorf("failed to read recipes file: %w", err)}
	}
	loaded, order, errs := decode(data)
	out := make([]models.Recipe, 0, len(order))
	for _, key := range order {
		out = append(out, loaded[key])
	}
	return out, errs
}

// ParseRecipe parses a single recipe document, YAML or JSON, in any
// accepted step shape. The key is derived from the name.
func ParseRecipe(data []byte) (models.Recipe, error) {
	var raw rawRecipe
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return models.Recipe{}, fmt.Errorf("invalid recipe document: %w", err)
	}
	return normalize(KeyFor(raw.Name), raw)
}

// ExampleRecipes returns the recipes written to a fresh recipes file
func ExampleRecipes() []models.Recipe {
	return []models.Recipe{
		{
			Key:         "macchiato_americano",
			Name:        "Macchiato + Americano",
			Description: "Latte macchiato followed by an americano",
			Steps: []models.Step{
				models.NewDrinkStep("LatteMacchiato", false, models.DefaultStepTimeout),
				models.NewDrinkStep("Americano", false, models.DefaultStepTimeout),
			},
		},
		{
			Key:         "double_espresso_cappuccino",
			Name:        "Double Espresso + Cappuccino",
			Description: "Strong double espresso then a cappuccino",
			Steps: []models.Step{
				models.NewDrinkStep("Espresso", true, 180*time.Second),
				models.NewDrinkStep("Cappuccino", false, models.DefaultStepTimeout),
			},
		},
	}
}
