package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/fentz26/qgate/internal/controlplane"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// apiClient is the shared HTTP client with timeout.
var apiClient = &http.Client{
	Timeout: DefaultClientTimeout,
}

// apiGet performs a GET request to the API with timeout.
func apiGet(path string) ([]byte, error) {
	return apiDo(http.MethodGet, path, nil)
}

// apiPost performs a POST request to the API with timeout.
func apiPost(path string, data interface{}) ([]byte, error) {
	return apiDo(http.MethodPost, path, data)
}

// apiDelete performs a DELETE request to the API with timeout.
func apiDelete(path string) ([]byte, error) {
	return apiDo(http.MethodDelete, path, nil)
}

func apiDo(method, path string, data interface{}) ([]byte, error) {
	body, _, err := apiDoHeader(method, path, data)
	return body, err
}

func apiDoHeader(method, path string, data interface{}) ([]byte, http.Header, error) {
	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, nil, err
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, apiAddr+path, body)
	if err != nil {
		return nil, nil, err
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := apiClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}

	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &e) == nil && e.Error != "" {
			return nil, nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, e.Error)
		}
		return nil, nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(bytes.TrimSpace(respBody)))
	}

	return respBody, resp.Header, nil
}

// apiGetJSON decodes a GET response into v.
func apiGetJSON(path string, v interface{}) error {
	body, err := apiGet(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

// apiGetJSONGeneration decodes a GET response into v and returns the catalog
// generation header.
func apiGetJSONGeneration(path string, v interface{}) (uint64, error) {
	body, header, err := apiDoHeader(http.MethodGet, path, nil)
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return 0, err
	}
	gen, _ := strconv.ParseUint(header.Get(controlplane.GenerationHeader), 10, 64)
	return gen, nil
}

// CheckHealth checks if the daemon is healthy and returns the health response.
// The parsed payload is returned alongside the error on non-200 responses.
func CheckHealth() (*controlplane.HealthResponse, error) {
	resp, err := apiClient.Get(apiAddr + "/health")
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var health controlplane.HealthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		return nil, fmt.Errorf("failed to parse health response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &health, fmt.Errorf("health check failed (status %d): %s", resp.StatusCode, string(body))
	}
	return &health, nil
}
