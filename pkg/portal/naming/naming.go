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

// Package naming derives the deterministic Kubernetes names, labels and
// DNS labels for student workloads. Every managed object of one student
// shares the same resource name, so all callers must go through this
// package instead of concatenating strings themselves.
package naming

import (
	"crypto/sha1"
	"fmt"
	"regexp"
	"strings"
)

const (
	// MaxLabelLength is the DNS-1123 label limit enforced by the API server.
	MaxLabelLength = 63

	// fallback when normalization consumes the entire input.
	fallbackLabel = "student"

	resourcePrefix = "student-"

	AppLabel       = "app"
	StudentLabel   = "student"
	ManagedByLabel = "managed-by"
	ManagedByValue = "portal-controller"
)

var (
	invalidLabelChars = regexp.MustCompile(`[^a-z0-9-]+`)
	dashRuns          = regexp.MustCompile(`-{2,}`)
)

// Normalize converts a raw student code into a valid DNS-1123 label.
// The transformation is idempotent: lowercase, collapse runs of
// characters outside [a-z0-9-] into a single dash, collapse dash runs,
// and strip leading/trailing dashes. Inputs longer than the label limit
// are truncated and suffixed with six hex characters of the SHA-1 of
// the lowercased input so distinct codes stay distinct.
func Normalize(code string) string {
	if code == "" {
		return fallbackLabel
	}
	lowered := strings.ToLower(strings.TrimSpace(code))
	normalized := invalidLabelChars.ReplaceAllString(lowered, "-")
	normalized = dashRuns.ReplaceAllString(normalized, "-")
	normalized = strings.Trim(normalized, "-")
	if normalized == "" {
		return fallbackLabel
	}
	if len(normalized) <= MaxLabelLength {
		return normalized
	}
	digest := fmt.Sprintf("%x", sha1.Sum([]byte(lowered)))[:6]
	trimmed := strings.TrimRight(normalized[:MaxLabelLength-7], "-")
	return trimmed + "-" + digest
}

// ResourceName returns the shared name of the Deployment, Service and
// Ingress carrying a student's workload.
func ResourceName(code string) string {
	return resourcePrefix + Normalize(code)
}

// Labels returns the label set stamped on every object managed for the
// given student.
func Labels(code string) map[string]string {
	return map[string]string{
		AppLabel:       ResourceName(code),
		StudentLabel:   code,
		ManagedByLabel: ManagedByValue,
	}
}

// StudentCodeFromAppLabel recovers the student key from an "app" label
// value, or "" when the value is not a student workload label.
func StudentCodeFromAppLabel(value string) string {
	if !strings.HasPrefix(value, resourcePrefix) {
		return ""
	}
	return strings.TrimPrefix(value, resourcePrefix)
}
