/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal HTTP client for the script API.
type Client struct {
	BaseURL   string
	Token     string // bearer token
	AccessKey string // presented by Authenticate
	client    *http.Client
}

// NewClient creates a client. A trailing slash on baseURL is dropped.
func NewClient(baseURL string, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server %s %s: %s", e.Method, e.Path, e.Status)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, dest any) error {
	u, err := url.Parse(c.BaseURL + path)
	if err != nil {
		return err
	}
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	var req *http.Request
	if rd != nil {
		req, err = http.NewRequestWithContext(ctx, method, u.String(), rd)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, u.String(), nil)
	}
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{Method: method, Path: u.Path, Code: resp.StatusCode, Status: resp.Status}
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %w", se, ErrNotFound)
		}
		return se
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	return dec.Decode(dest)
}

// Authenticate exchanges AccessKey for a token for subject and stores it on
// the client.
func (c *Client) Authenticate(ctx context.Context, subject string) error {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/token", map[string]any{"subject": subject, "key": c.AccessKey}, &out); err != nil {
		return err
	}
	c.Token = out.Token
	return nil
}

// ListScripts returns the published scripts of story.
func (c *Client) ListScripts(ctx context.Context, story string) ([]ScriptInfo, error) {
	var list []ScriptInfo
	if err := c.doJSON(ctx, http.MethodGet, "/api/stories/"+url.PathEscape(story)+"/scripts", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetScript fetches one published script.
func (c *Client) GetScript(ctx context.Context, story, id string) (Script, error) {
	var sc Script
	path := "/api/stories/" + url.PathEscape(story) + "/scripts/" + url.PathEscape(id)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &sc); err != nil {
		return Script{}, err
	}
	return sc, nil
}
