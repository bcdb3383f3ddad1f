package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fentz26/qgate/internal/logging"
	"github.com/fentz26/qgate/internal/models"
	"go.uber.org/zap"
)

// DefaultTimeout is the per-request timeout of the HTTP runner client.
const DefaultTimeout = 10 * time.Second

// HTTPClient is a Runner backed by a remote code-quality endpoint.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPClient creates a client for baseURL, e.g.
// http://127.0.0.1:5005/api/admin/tests/code-quality.
func NewHTTPClient(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logging.OrNop(logger).Named("runner"),
	}
}

type submitRequest struct {
	SelectedFiles []int    `json:"selected_files"`
	Paths         []string `json:"paths"`
}

// Submit posts a single-file run request.
func (c *HTTPClient) Submit(ctx context.Context, file models.FileDescriptor) (SubmitResponse, error) {
	payload, err := json.Marshal(submitRequest{
		SelectedFiles: []int{file.ID},
		Paths:         []string{file.Path},
	})
	if err != nil {
		return SubmitResponse{}, &TransportError{Op: "submit", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/run", bytes.NewReader(payload))
	if err != nil {
		return SubmitResponse{}, &TransportError{Op: "submit", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	body, code, err := c.do(req)
	if err != nil {
		return SubmitResponse{}, &TransportError{Op: "submit", Err: err}
	}
	if code >= 400 {
		return SubmitResponse{}, &TransportError{Op: "submit", StatusCode: code, Err: errors.New(errorMessage(body))}
	}

	resp := SubmitResponse{Status: SubmitQueued}
	if len(bytes.TrimSpace(body)) > 0 {
		var decoded SubmitResponse
		if err := json.Unmarshal(body, &decoded); err == nil && decoded.Status != "" {
			resp = decoded
		}
	}
	c.logger.Debug("submitted", zap.Int("file_id", file.ID), zap.String("path", file.Path), zap.String("status", string(resp.Status)))
	return resp, nil
}

// Poll fetches the results of the outstanding submission. 202 and 404 mean the
// result is not ready yet.
func (c *HTTPClient) Poll(ctx context.Context) (PollResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/results", nil)
	if err != nil {
		return PollResponse{}, &TransportError{Op: "poll", Err: err}
	}

	body, code, err := c.do(req)
	if err != nil {
		return PollResponse{}, &TransportError{Op: "poll", Err: err}
	}

	switch {
	case code == http.StatusAccepted:
		return PollResponse{Status: PollRunning}, nil
	case code == http.StatusNotFound:
		return PollResponse{Status: PollNotFound}, nil
	case code >= 400:
		return PollResponse{}, &TransportError{Op: "poll", StatusCode: code, Err: errors.New(errorMessage(body))}
	}

	var resp PollResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return PollResponse{}, &TransportError{Op: "poll", StatusCode: code, Err: fmt.Errorf("decode results: %w", err)}
	}

	switch resp.Status {
	case PollQueued, PollRunning, PollNotFound:
		return PollResponse{Status: resp.Status}, nil
	case PollCompleted, PollFailed:
		if resp.Result == nil {
			return PollResponse{}, &TransportError{Op: "poll", StatusCode: code, Err: fmt.Errorf("%s response without results", resp.Status)}
		}
		return resp, nil
	default:
		return PollResponse{}, &TransportError{Op: "poll", StatusCode: code, Err: fmt.Errorf("unknown status %q", resp.Status)}
	}
}

func (c *HTTPClient) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

// errorMessage extracts {"error": "..."} from a response body, falling back
// to the raw text.
func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "empty response"
	}
	return msg
}
