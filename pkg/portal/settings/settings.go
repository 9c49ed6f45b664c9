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

// Package settings resolves the system settings singleton and derives
// per-student hosts, namespaces and image repositories from it.
package settings

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/hjunqq/hydrosim-platform/pkg/portal/errors"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/naming"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/store"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/util"
)

// Defaults applied when the settings row leaves a field unset.
const (
	DefaultDomainPrefix      = "stu-"
	DefaultDomainBase        = "hydrosim.cn"
	DefaultBuildNamespace    = "hydrosim"
	DefaultImageRepoTemplate = "{{registry}}/hydrosim/{{student_code}}"
)

// ClassNamespace pairs a project class with the namespace its student
// workloads deploy into.
type ClassNamespace struct {
	Class     store.ProjectType
	Namespace string
}

var studentNamespaces = []ClassNamespace{
	{Class: store.ProjectGD, Namespace: "students-gd"},
	{Class: store.ProjectCD, Namespace: "students-cd"},
}

// StudentNamespaces lists the per-class student namespaces in a stable
// order.
func StudentNamespaces() []ClassNamespace {
	out := make([]ClassNamespace, len(studentNamespaces))
	copy(out, studentNamespaces)
	return out
}

// ClassKeys lists the recognized project class keys.
func ClassKeys() []string {
	keys := make([]string, 0, len(studentNamespaces))
	for _, cn := range studentNamespaces {
		keys = append(keys, string(cn.Class))
	}
	return keys
}

// NamespaceForClass maps a project class key to its student namespace.
func NamespaceForClass(class store.ProjectType) (string, error) {
	for _, cn := range studentNamespaces {
		if cn.Class == class {
			return cn.Namespace, nil
		}
	}
	return "", errors.Newf(errors.InvalidInput, "invalid project class %q: must be one of %v", class, ClassKeys())
}

// ClassForNamespace is the reverse of NamespaceForClass.
func ClassForNamespace(namespace string) (store.ProjectType, bool) {
	for _, cn := range studentNamespaces {
		if cn.Namespace == namespace {
			return cn.Class, true
		}
	}
	return "", false
}

// Store is the slice of the persistence layer the resolver needs.
type Store interface {
	GetSettings(ctx context.Context) (*store.SystemSetting, error)
	InsertSettings(ctx context.Context) (*store.SystemSetting, error)
	UpdateSettings(ctx context.Context, s *store.SystemSetting) error
}

// Resolver loads the settings singleton and backfills defaults.
type Resolver struct {
	store Store
}

func NewResolver(s Store) *Resolver {
	return &Resolver{store: s}
}

// GetOrCreate returns the settings row, inserting it on first use.
// Unset fields are persisted with their defaults so later reads and the
// admin UI observe the effective values. An empty (non-null) domain
// prefix is kept as-is: it means hosts carry no prefix.
func (r *Resolver) GetOrCreate(ctx context.Context) (*store.SystemSetting, error) {
	s, err := r.store.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading system settings: %w", err)
	}
	if s == nil {
		if s, err = r.store.InsertSettings(ctx); err != nil {
			return nil, fmt.Errorf("creating system settings: %w", err)
		}
	}

	updated := false
	if s.StudentDomainPrefix == nil {
		s.StudentDomainPrefix = util.Ptr(DefaultDomainPrefix)
		updated = true
	}
	if s.StudentDomainBase == nil || *s.StudentDomainBase == "" {
		s.StudentDomainBase = util.Ptr(DefaultDomainBase)
		updated = true
	}
	if s.BuildNamespace == nil || *s.BuildNamespace == "" {
		s.BuildNamespace = util.Ptr(DefaultBuildNamespace)
		updated = true
	}
	if s.DefaultImageRepoTemplate == nil || *s.DefaultImageRepoTemplate == "" {
		s.DefaultImageRepoTemplate = util.Ptr(DefaultImageRepoTemplate)
		updated = true
	}
	if updated {
		if err := r.store.UpdateSettings(ctx, s); err != nil {
			return nil, fmt.Errorf("backfilling system settings: %w", err)
		}
	}
	return s, nil
}

// DomainParts derives the host prefix, the per-class domain suffix and
// the full public host for one student.
func DomainParts(s *store.SystemSetting, studentCode string, class store.ProjectType) (hostPrefix, domainSuffix, fullDomain string) {
	prefix := DefaultDomainPrefix
	if s != nil && s.StudentDomainPrefix != nil {
		prefix = *s.StudentDomainPrefix
	}
	prefix = strings.ToLower(prefix)

	base := DefaultDomainBase
	if s != nil && s.StudentDomainBase != nil && *s.StudentDomainBase != "" {
		base = *s.StudentDomainBase
	}
	base = strings.TrimLeft(strings.TrimSpace(base), ".")

	host := prefix + naming.Normalize(studentCode)
	suffix := strings.ToLower(string(class)) + "." + base
	return prefix, suffix, host + "." + suffix
}

// BuildNamespace returns the namespace Kaniko jobs and their secrets
// live in.
func BuildNamespace(s *store.SystemSetting) string {
	if s != nil && s.BuildNamespace != nil && *s.BuildNamespace != "" {
		return *s.BuildNamespace
	}
	return DefaultBuildNamespace
}

// ImageRepoTemplate returns the effective image repository template.
func ImageRepoTemplate(s *store.SystemSetting) string {
	if s != nil && s.DefaultImageRepoTemplate != nil && *s.DefaultImageRepoTemplate != "" {
		return *s.DefaultImageRepoTemplate
	}
	return DefaultImageRepoTemplate
}

// RegistryHost reduces a registry URL to the bare host that image
// references and dockerconfig auth entries use.
func RegistryHost(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}
	if strings.Contains(rawURL, "://") {
		if parsed, err := url.Parse(rawURL); err == nil {
			host := parsed.Host
			if host == "" {
				host = parsed.Path
			}
			return strings.TrimRight(host, "/")
		}
	}
	return strings.TrimRight(rawURL, "/")
}

// RenderImageRepo fills an image repository template for one student.
// The student code is substituted verbatim. It returns "" when the
// template is empty or demands a registry and none is configured.
func RenderImageRepo(template string, registry *store.Registry, studentCode string) string {
	if template == "" {
		return ""
	}
	result := template
	if strings.Contains(result, "{{registry}}") {
		if registry == nil || registry.URL == "" {
			return ""
		}
		result = strings.ReplaceAll(result, "{{registry}}", RegistryHost(registry.URL))
	}
	return strings.ReplaceAll(result, "{{student_code}}", studentCode)
}
