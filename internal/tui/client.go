package tui

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/fentz26/qgate/internal/models"
	"github.com/fentz26/qgate/internal/session"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// ErrNoRun is returned when the daemon has not run any tests yet.
var ErrNoRun = errors.New("no test run yet")

// Client wraps HTTP calls to the qgate API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// Ping reports whether the daemon answers its health check.
func (c *Client) Ping() bool {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// CurrentRun fetches the active or last finished run.
func (c *Client) CurrentRun() (*session.View, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/runs/current")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNoRun
	}
	if resp.StatusCode >= 400 {
		return nil, apiError(resp)
	}

	var v session.View
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Report fetches the text report of one file of the current run.
func (c *Client) Report(fileID int) (string, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/reports/" + strconv.Itoa(fileID))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", apiError(resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Cancel asks the daemon to stop the active run.
func (c *Client) Cancel() error {
	_, err := c.post("/runs/cancel", struct{}{})
	return err
}

// Approve backs up the pending decision of a run.
func (c *Client) Approve(sessionID string) (*models.Backup, error) {
	body, err := c.post("/runs/approve", map[string]string{"session_id": sessionID})
	if err != nil {
		return nil, err
	}
	var b models.Backup
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Dismiss drops the pending decision of a run.
func (c *Client) Dismiss(sessionID string) error {
	_, err := c.post("/runs/dismiss", map[string]string{"session_id": sessionID})
	return err
}

// Rerun starts a new run over the given files.
func (c *Client) Rerun(fileIDs []int) (string, error) {
	body, err := c.post("/runs", map[string][]int{"file_ids": fileIDs})
	if err != nil {
		return "", err
	}
	var started struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(body, &started); err != nil {
		return "", err
	}
	return started.SessionID, nil
}

func (c *Client) post(path string, data interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Post(c.baseURL+path, "application/json", bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, apiError(resp)
	}
	return io.ReadAll(resp.Body)
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, e.Error)
	}
	return fmt.Errorf("API error (%d): %s", resp.StatusCode, bytes.TrimSpace(body))
}
