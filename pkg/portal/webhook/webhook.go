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

// Package webhook routes git push events to the build orchestrator. A
// push is matched to the unique build config whose repository URL
// normalizes to the same {host}/{owner}/{repo} identity.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"strings"

	portalerrors "github.com/hjunqq/hydrosim-platform/pkg/portal/errors"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/output/log"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/store"
)

// Triggerer is the slice of the build orchestrator intake needs.
type Triggerer interface {
	Trigger(ctx context.Context, q *store.Queries, studentID int64, commitSHA, branch string) (*store.Build, error)
}

// Intake verifies and routes push events.
type Intake struct {
	secret    string
	triggerer Triggerer
}

// NewIntake returns an intake. An empty secret disables signature
// verification.
func NewIntake(secret string, triggerer Triggerer) *Intake {
	return &Intake{secret: secret, triggerer: triggerer}
}

// Result is the intake's answer for one delivery. Non-triggering
// outcomes are benign: the message explains why nothing happened.
type Result struct {
	Triggered bool   `json:"triggered"`
	BuildID   *int64 `json:"build_id,omitempty"`
	Message   string `json:"msg"`
}

type pushPayload struct {
	Ref        string     `json:"ref"`
	After      string     `json:"after"`
	Repository repository `json:"repository"`
	Commits    []commit   `json:"commits"`
}

type repository struct {
	SSHURL   string `json:"ssh_url"`
	CloneURL string `json:"clone_url"`
	HTMLURL  string `json:"html_url"`
	URL      string `json:"url"`
}

type commit struct {
	ID string `json:"id"`
}

// NormalizeRepoURL reduces any clone URL form (scp-like, ssh://, http,
// bare) to the lowercased {host}/{owner}/{repo} identity, without the
// .git suffix. It returns "" when no host or path can be derived.
func NormalizeRepoURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	var host, path string
	switch {
	case strings.HasPrefix(raw, "git@"):
		hostPath := strings.SplitN(raw, "@", 2)[1]
		if i := strings.Index(hostPath, ":"); i >= 0 {
			host, path = hostPath[:i], hostPath[i+1:]
		} else {
			host = hostPath
		}
	case strings.Contains(raw, "://"):
		parsed, err := url.Parse(raw)
		if err != nil {
			return ""
		}
		host = parsed.Hostname()
		path = strings.TrimLeft(parsed.Path, "/")
	default:
		parts := strings.SplitN(raw, "/", 2)
		host = parts[0]
		if len(parts) > 1 {
			path = parts[1]
		}
	}

	if host == "" || path == "" {
		return ""
	}
	path = strings.TrimSuffix(path, ".git")
	return strings.ToLower(host + "/" + path)
}

// VerifySignature checks the sha256 HMAC of the raw body against the
// delivered signature. It is a no-op when no secret is configured.
func (i *Intake) VerifySignature(signature string, body []byte) error {
	if i.secret == "" {
		return nil
	}
	if signature == "" {
		return portalerrors.New(portalerrors.Forbidden, "Missing webhook signature")
	}
	signature = strings.TrimPrefix(signature, "sha256=")

	mac := hmac.New(sha256.New, []byte(i.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return portalerrors.New(portalerrors.Forbidden, "Invalid webhook signature")
	}
	return nil
}

func extractRepoURL(r repository) string {
	for _, candidate := range []string{r.SSHURL, r.CloneURL, r.HTMLURL, r.URL} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

// OnPush handles one delivery. The raw body is passed unparsed so the
// signature covers exactly the bytes received.
func (i *Intake) OnPush(ctx context.Context, q *store.Queries, event, signature string, body []byte) (*Result, error) {
	if err := i.VerifySignature(signature, body); err != nil {
		return nil, err
	}

	var payload pushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, portalerrors.New(portalerrors.InvalidInput, "Invalid JSON")
	}
	if event != "push" {
		return &Result{Message: "Ignored event type"}, nil
	}

	repoURL := extractRepoURL(payload.Repository)
	normalized := NormalizeRepoURL(repoURL)
	if normalized == "" {
		return nil, portalerrors.New(portalerrors.InvalidInput, "Missing repository URL")
	}

	configs, err := q.ListBuildConfigs(ctx)
	if err != nil {
		return nil, err
	}
	var config *store.BuildConfig
	for idx := range configs {
		if NormalizeRepoURL(configs[idx].RepoURL) == normalized {
			config = &configs[idx]
			break
		}
	}
	if config == nil {
		log.Entry(ctx).Warnf("no build config found for repo: %s", repoURL)
		return &Result{Message: "No config found"}, nil
	}
	if !config.AutoBuild {
		return &Result{Message: "Auto build disabled"}, nil
	}

	branch := "main"
	if payload.Ref != "" {
		segments := strings.Split(payload.Ref, "/")
		branch = segments[len(segments)-1]
	}
	if branch != config.Branch {
		return &Result{Message: "Branch mismatch, skipping"}, nil
	}

	commitSHA := payload.After
	if len(payload.Commits) > 0 && payload.Commits[len(payload.Commits)-1].ID != "" {
		commitSHA = payload.Commits[len(payload.Commits)-1].ID
	}
	if commitSHA == "" {
		commitSHA = "latest"
	}

	build, err := i.triggerer.Trigger(ctx, q, config.StudentID, commitSHA, branch)
	if err != nil {
		log.Entry(ctx).Errorf("failed to trigger build via webhook: %v", err)
		return nil, err
	}
	return &Result{Triggered: true, BuildID: &build.ID, Message: "Build triggered"}, nil
}
