package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// client calls the relay admin API.
type client struct {
	baseURL string
	token   string
	http    *http.Client
}

func newClient(baseURL, token string) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &apiError{Status: resp.StatusCode, Message: e.Error}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

type stats struct {
	Files int `json:"files"`
	Users int `json:"users"`
}

func (c *client) stats(ctx context.Context) (*stats, error) {
	var s stats
	if err := c.do(ctx, http.MethodGet, "/api/admin/stats", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *client) sweep(ctx context.Context) (int, error) {
	var out struct {
		Removed int `json:"removed"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/admin/sweep", nil, &out); err != nil {
		return 0, err
	}
	return out.Removed, nil
}

type broadcastResult struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

func (c *client) broadcast(ctx context.Context, text string) (*broadcastResult, error) {
	var out broadcastResult
	body := map[string]string{"text": text}
	if err := c.do(ctx, http.MethodPost, "/api/admin/broadcast", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) deleteCode(ctx context.Context, code string) error {
	return c.do(ctx, http.MethodDelete, "/api/files/"+url.PathEscape(code), nil, nil)
}

func (c *client) resetStats(ctx context.Context, userID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/admin/users/%d/stats", userID), nil, nil)
}

type file struct {
	Code       string `json:"code"`
	Kind       string `json:"kind"`
	Category   string `json:"category"`
	Uploader   int64  `json:"uploader"`
	UploadedAt string `json:"uploaded_at"`
	ExpiresAt  string `json:"expires_at"`
	Locked     bool   `json:"locked"`
	FileName   string `json:"file_name"`
}

func (c *client) files(ctx context.Context, query url.Values) ([]file, error) {
	var out struct {
		Files []file `json:"files"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/files?"+query.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Files, nil
}
