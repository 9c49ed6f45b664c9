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

// Package registry probes OCI registries over the distribution v2 API:
// connectivity checks, repository and tag listings, and tag deletion
// by manifest digest.
package registry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	portalerrors "github.com/hjunqq/hydrosim-platform/pkg/portal/errors"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/output/log"
)

const (
	pingTimeout = 5 * time.Second
	listTimeout = 10 * time.Second

	manifestAccept = "application/vnd.docker.distribution.manifest.v2+json, " +
		"application/vnd.docker.distribution.manifest.list.v2+json, " +
		"application/vnd.oci.image.manifest.v1+json, " +
		"application/vnd.oci.image.index.v1+json"
)

// Credentials for basic auth against the registry. Empty values mean
// anonymous access.
type Credentials struct {
	Username string
	Password string
}

// Probe issues distribution API calls against one registry.
type Probe struct {
	baseURL string
	creds   Credentials
	http    *http.Client
}

// NewProbe returns a probe for the registry at baseURL. Private class
// registries commonly run self-signed, so certificate verification is
// disabled.
func NewProbe(baseURL string, creds Credentials) *Probe {
	return &Probe{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		http: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
	}
}

func (p *Probe) do(ctx context.Context, method, path, accept string, timeout time.Duration) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if p.creds.Username != "" && p.creds.Password != "" {
		req.SetBasicAuth(p.creds.Username, p.creds.Password)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Ping reports whether the registry speaks the v2 API. 401 counts as
// reachable: the endpoint exists, the credentials are just wrong or
// absent.
func (p *Probe) Ping(ctx context.Context) bool {
	resp, err := p.do(ctx, http.MethodGet, "/v2/", "", pingTimeout)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusUnauthorized
}

// Catalog lists the registry's repositories. Failures degrade to an
// empty list.
func (p *Probe) Catalog(ctx context.Context) []string {
	resp, err := p.do(ctx, http.MethodGet, "/v2/_catalog", "", listTimeout)
	if err != nil {
		log.Entry(ctx).Warnf("registry catalog: %v", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	var body struct {
		Repositories []string `json:"repositories"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		log.Entry(ctx).Warnf("registry catalog: %v", err)
		return nil
	}
	return body.Repositories
}

// Tags lists a repository's tags. Failures degrade to an empty list.
func (p *Probe) Tags(ctx context.Context, repo string) []string {
	resp, err := p.do(ctx, http.MethodGet, "/v2/"+repo+"/tags/list", "", listTimeout)
	if err != nil {
		log.Entry(ctx).Warnf("registry tags: %v", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	var body struct {
		Tags []string `json:"tags"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		log.Entry(ctx).Warnf("registry tags: %v", err)
		return nil
	}
	return body.Tags
}

// DeleteTag removes a tag by resolving its manifest digest and
// deleting that. Registries that disable deletion answer 405.
func (p *Probe) DeleteTag(ctx context.Context, repo, tag string) error {
	manifestPath := "/v2/" + repo + "/manifests/" + tag
	resp, err := p.do(ctx, http.MethodHead, manifestPath, manifestAccept, listTimeout)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		// Some registries reject HEAD on manifests.
		resp, err = p.do(ctx, http.MethodGet, manifestPath, manifestAccept, listTimeout)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return portalerrors.New(portalerrors.NotFound, "Manifest not found")
		}
	}

	digest := resp.Header.Get("Docker-Content-Digest")
	if digest == "" {
		return portalerrors.New(portalerrors.DependencyUnavailable, "No digest header found")
	}

	resp, err = p.do(ctx, http.MethodDelete, "/v2/"+repo+"/manifests/"+digest, "", listTimeout)
	if err != nil {
		return err
	}
	resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusAccepted:
		return nil
	case http.StatusMethodNotAllowed:
		return portalerrors.New(portalerrors.StateConflict, "Registry configuration does not permit deletion (405 Method Not Allowed).")
	}
	return fmt.Errorf("delete failed: status %d", resp.StatusCode)
}
