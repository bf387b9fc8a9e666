package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
)

// HTTPBackend calls a JSON chat-completions style endpoint and extracts the
// response text with a configurable gjson path, so it can front OpenAI-
// compatible, Anthropic-compatible, or custom provider shapes without a
// dedicated SDK per vendor.
type HTTPBackend struct {
	Client       *http.Client
	Endpoint     string
	APIKey       string
	ResponsePath string // gjson path into the JSON response, e.g. "choices.0.message.content"
}

// NewHTTPBackend builds an HTTPBackend with a default client if none is given.
func NewHTTPBackend(endpoint, apiKey, responsePath string, client *http.Client) *HTTPBackend {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPBackend{Client: client, Endpoint: endpoint, APIKey: apiKey, ResponsePath: responsePath}
}

// Complete posts {model, system, prompt} to Endpoint and extracts the
// response text via ResponsePath.
func (b *HTTPBackend) Complete(ctx context.Context, req Request) (string, error) {
	payload := map[string]any{
		"model":  req.Model,
		"system": req.System,
		"prompt": req.Prompt,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode provider request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build provider request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.APIKey)
	}

	resp, err := b.Client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read provider response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return "", fmt.Errorf("unauthorized: %s", string(respBody))
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("provider returned %d: %s", resp.StatusCode, string(respBody))
	}

	path := b.ResponsePath
	if path == "" {
		path = "text"
	}
	result := gjson.GetBytes(respBody, path)
	return result.String(), nil
}
