package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// ApiClient handles API requests to the barista API
type ApiClient struct {
	httpClient *http.Client
	BaseURL    string
	Token      string
}

// NewApiClient creates a new API client from BARISTA_API_URL and BARISTA_TOKEN
func NewApiClient() *ApiClient {
	baseURL := os.Getenv("BARISTA_API_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	return &ApiClient{
		httpClient: &http.Client{
			Timeout: time.Second * 10,
		},
		BaseURL: baseURL,
		Token:   os.Getenv("BARISTA_TOKEN"),
	}
}

// Progress mirrors the progress part of GET /status
type Progress struct {
	RecipeName  string `json:"recipe_name"`
	StepIndex   int    `json:"current_step"`
	TotalSteps  int    `json:"total_steps"`
	ActionLabel string `json:"current_action"`
	LastError   string `json:"error"`
}

// Status is the executor state and progress
type Status struct {
	State    string   `json:"state"`
	Progress Progress `json:"progress"`
}

// Recipe is a recipe as listed by the API
type Recipe struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Summary     string `json:"summary"`
}

// Execution is one finished run
type Execution struct {
	Recipe     string    `json:"recipe"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason"`
	FailedStep int       `json:"failed_step"`
	TotalSteps int       `json:"total_steps"`
	EndTime    time.Time `json:"end_time"`
	Seconds    float64   `json:"duration_seconds"`
}

// CheckHealth checks if the API is up and running
func (c *ApiClient) CheckHealth() (bool, error) {
	resp, err := c.httpClient.Get(c.BaseURL + "/health")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("API health check failed with status code: %d", resp.StatusCode)
	}

	return true, nil
}

// GetStatus retrieves the executor status
func (c *ApiClient) GetStatus() (*Status, error) {
	var status Status
	if err := c.do(http.MethodGet, "/api/v1/status", nil, http.StatusOK, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// GetRecipes retrieves all recipes
func (c *ApiClient) GetRecipes() ([]Recipe, error) {
	var recipes []Recipe
	if err := c.do(http.MethodGet, "/api/v1/recipes", nil, http.StatusOK, &recipes); err != nil {
		return nil, err
	}
	return recipes, nil
}

// Brew starts a recipe by key
func (c *ApiClient) Brew(key string) error {
	return c.do(http.MethodPost, "/api/v1/brew", map[string]string{"recipe": key}, http.StatusAccepted, nil)
}

// Abort stops the running recipe
func (c *ApiClient) Abort() error {
	return c.do(http.MethodPost, "/api/v1/abort", nil, http.StatusOK, nil)
}

// GetExecutions retrieves the most recent runs
func (c *ApiClient) GetExecutions(limit int) ([]Execution, error) {
	var out []Execution
	if err := c.do(http.MethodGet, fmt.Sprintf("/api/v1/executions?limit=%d", limit), nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ApiClient) do(method, path string, body interface{}, want int, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (status %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
