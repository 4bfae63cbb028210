// Package render calls the document rendering collaborator that turns a
// bound template into files.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/letterflow/internal/common"
	"github.com/dmitrijs2005/letterflow/internal/server/models"
)

type request struct {
	TemplateID      string         `json:"template_id"`
	TemplateVersion int            `json:"template_version"`
	Locale          string         `json:"locale"`
	Data            map[string]any `json:"data"`
}

// File is one rendered output.
type File struct {
	Kind string `json:"kind"`
	URL  string `json:"url"`
}

type response struct {
	Files []File `json:"files"`
}

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: client}
}

// Render posts the letter's template binding. Any failure, including an
// empty file list, matches common.ErrProviderUnavailable.
func (c *Client) Render(ctx context.Context, l *models.Letter) ([]File, error) {
	raw, err := json.Marshal(request{
		TemplateID:      l.TemplateID,
		TemplateVersion: l.TemplateVersion,
		Locale:          l.Locale,
		Data:            l.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("encode render request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/render", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("render: %w: %v", common.ErrProviderUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render: %w: %v", common.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("render: %w: %s: %s", common.ErrProviderUnavailable, resp.Status, strings.TrimSpace(string(b)))
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("render: %w: decode: %v", common.ErrProviderUnavailable, err)
	}
	if len(out.Files) == 0 {
		return nil, fmt.Errorf("render: %w: no files returned", common.ErrProviderUnavailable)
	}
	return out.Files, nil
}
