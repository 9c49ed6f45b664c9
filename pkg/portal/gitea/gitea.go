/*
Copyright 2025 The Hydrosim Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package gitea talks to the git host's REST API. The portal only
// needs it to install deploy keys on student repositories; an
// unconfigured client degrades to no-ops.
package gitea

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

	portalerrors "github.com/hjunqq/hydrosim-platform/pkg/portal/errors"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/output/log"
)

const requestTimeout = 8 * time.Second

// Client is an authenticated Gitea API client.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient returns a client for the given Gitea instance. Either
// argument may be empty; Configured reports whether calls will work.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// Configured reports whether the git host integration is usable.
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != "" && c.token != ""
}

// ParseRepoFullName reduces any clone URL form to its owner and
// repository name. It accepts scp-like, ssh://, http(s) and bare
// host/path forms.
func ParseRepoFullName(repoURL string) (owner, repo string, ok bool) {
	repoURL = strings.TrimSpace(repoURL)
	if repoURL == "" {
		return "", "", false
	}

	var host, path string
	switch {
	case strings.HasPrefix(repoURL, "git@"):
		hostPath := strings.SplitN(repoURL, "@", 2)[1]
		if i := strings.Index(hostPath, ":"); i >= 0 {
			host, path = hostPath[:i], hostPath[i+1:]
		} else {
			host = hostPath
		}
	case strings.Contains(repoURL, "://"):
		parsed, err := url.Parse(repoURL)
		if err != nil {
			return "", "", false
		}
		host = parsed.Hostname()
		path = strings.TrimLeft(parsed.Path, "/")
	default:
		parts := strings.SplitN(repoURL, "/", 2)
		host = parts[0]
		if len(parts) > 1 {
			path = parts[1]
		}
	}
	if host == "" || path == "" {
		return "", "", false
	}

	path = strings.TrimSuffix(path, ".git")
	var segments []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	if len(segments) < 2 {
		return "", "", false
	}
	return segments[len(segments)-2], segments[len(segments)-1], true
}

// CreateDeployKey installs a public key on the repository behind the
// clone URL. Conflicting keys (409/422) count as success so rotation
// stays idempotent. It reports whether the key is in place.
func (c *Client) CreateDeployKey(ctx context.Context, repoURL, title, key string, readOnly bool) (bool, error) {
	if !c.Configured() {
		return false, nil
	}
	owner, repo, ok := ParseRepoFullName(repoURL)
	if !ok {
		return false, portalerrors.New(portalerrors.InvalidInput, "Invalid repository URL")
	}

	payload, err := json.Marshal(map[string]interface{}{
		"title":     title,
		"key":       key,
		"read_only": readOnly,
	})
	if err != nil {
		return false, err
	}

	endpoint := fmt.Sprintf("%s/api/v1/repos/%s/%s/keys", c.baseURL, owner, repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "token "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		log.Entry(ctx).Errorf("gitea request failed: %v", err)
		return false, nil
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return true, nil
	case http.StatusConflict, http.StatusUnprocessableEntity:
		log.Entry(ctx).Infof("deploy key already exists for %s", repoURL)
		return true, nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	log.Entry(ctx).Errorf("gitea API error %d: %s", resp.StatusCode, body)
	return false, nil
}
