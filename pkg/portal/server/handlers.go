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

package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hjunqq/hydrosim-platform/pkg/portal/actor"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/auth"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/deploykeys"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/errors"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/instrumentation"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/output/log"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/registry"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/settings"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/store"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/version"
)

// for tests
var timeNow = func() time.Time { return time.Now().UTC() }

const presignExpiry = 15 * time.Minute

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Entry(context.Background()).Debugf("writing response: %v", err)
	}
}

func statusFor(kind errors.Kind) int {
	switch kind {
	case errors.InvalidInput:
		return http.StatusBadRequest
	case errors.NotFound:
		return http.StatusNotFound
	case errors.Forbidden:
		return http.StatusForbidden
	case errors.StateConflict:
		return http.StatusConflict
	case errors.DependencyUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(errors.KindOf(err))
	if status >= http.StatusInternalServerError {
		log.Entry(r.Context()).Errorf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, map[string]string{"detail": errors.MessageOf(err)})
}

func decodeJSON(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return errors.New(errors.InvalidInput, "Invalid JSON")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.New(errors.InvalidInput, "Invalid JSON")
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, errors.New(errors.InvalidInput, "Invalid "+name)
	}
	return id, nil
}

// studentByCode loads the student addressed by the {code} route param.
func (s *Server) studentByCode(r *http.Request) (*store.Student, error) {
	student, err := s.store.GetStudentByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		return nil, err
	}
	if student == nil {
		return nil, errors.New(errors.NotFound, "Student not found")
	}
	return student, nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	dbStatus := "ok"
	healthy := true
	if err := s.store.Ping(r.Context()); err != nil {
		dbStatus = "error"
		healthy = false
	}
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"status":     map[bool]string{true: "ok", false: "degraded"}[healthy],
		"database":   dbStatus,
		"kubernetes": s.cluster != nil,
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.Get())
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	teacher, err := s.store.GetTeacherByUsername(r.Context(), body.Username)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if teacher == nil || !auth.CheckPassword(body.Password, teacher.PasswordHash) {
		writeError(w, r, errors.New(errors.Forbidden, "Invalid authentication credentials"))
		return
	}
	if !teacher.IsActive {
		writeError(w, r, errors.New(errors.Forbidden, "Inactive user"))
		return
	}
	token, err := s.auth.IssueToken(teacher.Username, teacher.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": token,
		"token_type":   "bearer",
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	event := r.Header.Get("X-Gitea-Event")
	if event == "" {
		event = r.Header.Get("X-Webhook-Event")
	}
	signature := r.Header.Get("X-Gitea-Signature")
	if signature == "" {
		signature = r.Header.Get("X-Webhook-Signature")
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, r, errors.New(errors.InvalidInput, "Invalid JSON"))
		return
	}

	result, err := s.intake.OnPush(r.Context(), &s.store.Queries, event, signature, body)
	if err != nil {
		instrumentation.CountWebhook("rejected")
		writeError(w, r, err)
		return
	}
	if result.Triggered {
		instrumentation.CountWebhook("triggered")
		instrumentation.CountBuildTrigger("webhook")
	} else {
		instrumentation.CountWebhook("ignored")
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	student, err := s.studentByCode(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := actor.CanDeploy(actorFrom(r.Context()), student); err != nil {
		writeError(w, r, err)
		return
	}
	var body struct {
		Image string `json:"image"`
		Class string `json:"class_key"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.Image == "" {
		writeError(w, r, errors.New(errors.InvalidInput, "image is required"))
		return
	}
	class := student.ProjectType
	if body.Class != "" {
		class = store.ProjectType(body.Class)
	}

	result, err := s.deployer.Deploy(r.Context(), &s.store.Queries, student, body.Image, class, nil)
	if err != nil {
		instrumentation.CountDeploy("failed")
		writeError(w, r, err)
		return
	}
	instrumentation.CountDeploy(result.Status)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	student, err := s.studentByCode(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := actor.CanDelete(actorFrom(r.Context()), student); err != nil {
		writeError(w, r, err)
		return
	}
	class := student.ProjectType
	if v := r.URL.Query().Get("class"); v != "" {
		class = store.ProjectType(v)
	}

	result, err := s.deployer.Delete(r.Context(), student, class)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	student, err := s.studentByCode(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := actor.CanAccessStudent(actorFrom(r.Context()), student); err != nil {
		writeError(w, r, err)
		return
	}
	result, err := s.statuses.Single(r.Context(), student.StudentCode, student.ProjectType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStatusAll(w http.ResponseWriter, r *http.Request) {
	if err := actor.CanListClusterResources(actorFrom(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	results, err := s.statuses.All(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// buildResponse is the JSON shape of a build row.
type buildResponse struct {
	ID         int64      `json:"id"`
	StudentID  int64      `json:"student_id"`
	CommitSHA  string     `json:"commit_sha"`
	Branch     string     `json:"branch"`
	ImageTag   *string    `json:"image_tag"`
	Status     string     `json:"status"`
	Message    *string    `json:"message"`
	JobName    *string    `json:"job_name,omitempty"`
	HasLogs    bool       `json:"has_logs"`
	StartedAt  *time.Time `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	Duration   *int64     `json:"duration"`
	CreatedAt  time.Time  `json:"created_at"`
}

func renderBuild(b *store.Build) buildResponse {
	return buildResponse{
		ID:         b.ID,
		StudentID:  b.StudentID,
		CommitSHA:  b.CommitSHA,
		Branch:     b.Branch,
		ImageTag:   b.ImageTag,
		Status:     string(b.Status),
		Message:    b.Message,
		JobName:    b.JobName,
		HasLogs:    b.LogObjectKey != nil,
		StartedAt:  b.StartedAt,
		FinishedAt: b.FinishedAt,
		Duration:   b.Duration,
		CreatedAt:  b.CreatedAt,
	}
}

func (s *Server) handleBuildTrigger(w http.ResponseWriter, r *http.Request) {
	var body struct {
		StudentID int64  `json:"student_id"`
		CommitSHA string `json:"commit_sha"`
		Branch    string `json:"branch"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	student, err := s.store.GetStudent(r.Context(), body.StudentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if student == nil {
		writeError(w, r, errors.New(errors.NotFound, "Student not found"))
		return
	}
	if err := actor.CanDeploy(actorFrom(r.Context()), student); err != nil {
		writeError(w, r, err)
		return
	}

	build, err := s.builds.Trigger(r.Context(), &s.store.Queries, body.StudentID, body.CommitSHA, body.Branch)
	if err != nil {
		if build != nil {
			// The row exists and records the failure; surface both.
			writeJSON(w, statusFor(errors.KindOf(err)), renderBuild(build))
			return
		}
		writeError(w, r, err)
		return
	}
	instrumentation.CountBuildTrigger("api")
	writeJSON(w, http.StatusAccepted, renderBuild(build))
}

// loadBuild fetches the build and authorizes the caller against its
// student.
func (s *Server) loadBuild(r *http.Request) (*store.Build, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return nil, err
	}
	build, err := s.store.GetBuild(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if build == nil {
		return nil, errors.New(errors.NotFound, "Build not found")
	}
	student, err := s.store.GetStudent(r.Context(), build.StudentID)
	if err != nil {
		return nil, err
	}
	if student == nil {
		return nil, errors.New(errors.NotFound, "Student not found")
	}
	if err := actor.CanAccessStudent(actorFrom(r.Context()), student); err != nil {
		return nil, err
	}
	return build, nil
}

func (s *Server) handleBuildGet(w http.ResponseWriter, r *http.Request) {
	build, err := s.loadBuild(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	// Reconcile with the live job on read; failures fall back to the
	// recorded state.
	synced, err := s.builds.Sync(r.Context(), &s.store.Queries, build)
	if err != nil {
		log.Entry(r.Context()).Warnf("syncing build %d: %v", build.ID, err)
	} else {
		build = synced
	}
	writeJSON(w, http.StatusOK, renderBuild(build))
}

func (s *Server) handleBuildLogs(w http.ResponseWriter, r *http.Request) {
	build, err := s.loadBuild(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if build.LogObjectKey == nil {
		writeError(w, r, errors.New(errors.NotFound, "Build logs not available"))
		return
	}

	if r.URL.Query().Get("presign") == "1" {
		u, err := s.logs.PresignedURL(r.Context(), *build.LogObjectKey, presignExpiry)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"url": u})
		return
	}

	content, err := s.logs.Get(r.Context(), *build.LogObjectKey)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, content)
}

func (s *Server) handleDeployKeyRotate(w http.ResponseWriter, r *http.Request) {
	studentID, err := pathID(r, "studentID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	student, err := s.store.GetStudent(r.Context(), studentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if student == nil {
		writeError(w, r, errors.New(errors.NotFound, "Student not found"))
		return
	}
	if err := actor.CanRotateDeployKey(actorFrom(r.Context()), student); err != nil {
		writeError(w, r, err)
		return
	}

	cfg, err := s.store.EnsureBuildConfig(r.Context(), studentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	pair, err := deploykeys.Generate(deploykeys.DefaultBits)
	if err != nil {
		writeError(w, r, err)
		return
	}
	createdAt := timeNow()
	if err := s.store.SetDeployKey(r.Context(), studentID, pair.Public, pair.Private, pair.Fingerprint, createdAt); err != nil {
		writeError(w, r, err)
		return
	}

	registered := false
	if s.git.Configured() && cfg.RepoURL != "" {
		title := "portal-deploy-key-" + student.StudentCode
		registered, err = s.git.CreateDeployKey(r.Context(), cfg.RepoURL, title, pair.Public, true)
		if err != nil {
			log.Entry(r.Context()).Warnf("registering deploy key for student %d: %v", studentID, err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"public_key":       pair.Public,
		"fingerprint":      pair.Fingerprint,
		"created_at":       createdAt,
		"gitea_registered": registered,
	})
}

// settingsResponse is the JSON shape of the singleton settings row.
type settingsResponse struct {
	PlatformName             *string `json:"platform_name"`
	PortalTitle              *string `json:"portal_title"`
	StudentDomainPrefix      *string `json:"student_domain_prefix"`
	StudentDomainBase        *string `json:"student_domain_base"`
	BuildNamespace           *string `json:"build_namespace"`
	DefaultRegistryID        *string `json:"default_registry_id"`
	DefaultImageRepoTemplate *string `json:"default_image_repo_template"`
}

func renderSettings(sys *store.SystemSetting) settingsResponse {
	return settingsResponse{
		PlatformName:             sys.PlatformName,
		PortalTitle:              sys.PortalTitle,
		StudentDomainPrefix:      sys.StudentDomainPrefix,
		StudentDomainBase:        sys.StudentDomainBase,
		BuildNamespace:           sys.BuildNamespace,
		DefaultRegistryID:        sys.DefaultRegistryID,
		DefaultImageRepoTemplate: sys.DefaultImageRepoTemplate,
	}
}

func (s *Server) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	if err := actor.CanManageSettings(actorFrom(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	sys, err := settings.NewResolver(&s.store.Queries).GetOrCreate(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renderSettings(sys))
}

func (s *Server) handleSettingsPut(w http.ResponseWriter, r *http.Request) {
	if err := actor.CanManageSettings(actorFrom(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	var body settingsResponse
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	sys, err := settings.NewResolver(&s.store.Queries).GetOrCreate(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	// Absent fields keep their stored values.
	if body.PlatformName != nil {
		sys.PlatformName = body.PlatformName
	}
	if body.PortalTitle != nil {
		sys.PortalTitle = body.PortalTitle
	}
	if body.StudentDomainPrefix != nil {
		sys.StudentDomainPrefix = body.StudentDomainPrefix
	}
	if body.StudentDomainBase != nil {
		sys.StudentDomainBase = body.StudentDomainBase
	}
	if body.BuildNamespace != nil {
		sys.BuildNamespace = body.BuildNamespace
	}
	if body.DefaultRegistryID != nil {
		sys.DefaultRegistryID = body.DefaultRegistryID
	}
	if body.DefaultImageRepoTemplate != nil {
		sys.DefaultImageRepoTemplate = body.DefaultImageRepoTemplate
	}

	if err := s.store.UpdateSettings(r.Context(), sys); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renderSettings(sys))
}

// probeFor builds a registry probe from a stored registry's
// credentials.
func probeFor(reg *store.Registry) *registry.Probe {
	creds := registry.Credentials{}
	if reg.Username != nil {
		creds.Username = *reg.Username
	}
	if reg.Password != nil {
		creds.Password = *reg.Password
	}
	return registry.NewProbe(reg.URL, creds)
}

// registryByID loads the registry addressed by the {id} route param,
// enforcing the settings-admin gate shared by all probe endpoints.
func (s *Server) registryByID(r *http.Request) (*store.Registry, error) {
	if err := actor.CanManageSettings(actorFrom(r.Context())); err != nil {
		return nil, err
	}
	id, err := pathID(r, "id")
	if err != nil {
		return nil, err
	}
	reg, err := s.store.GetRegistry(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, errors.New(errors.NotFound, "Registry not found")
	}
	return reg, nil
}

func (s *Server) handleRegistryTest(w http.ResponseWriter, r *http.Request) {
	if err := actor.CanManageSettings(actorFrom(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	var body struct {
		URL      string `json:"url"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.URL == "" {
		writeError(w, r, errors.New(errors.InvalidInput, "url is required"))
		return
	}
	probe := registry.NewProbe(body.URL, registry.Credentials{Username: body.Username, Password: body.Password})
	writeJSON(w, http.StatusOK, map[string]bool{"reachable": probe.Ping(r.Context())})
}

func (s *Server) handleRegistryCatalog(w http.ResponseWriter, r *http.Request) {
	reg, err := s.registryByID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"registry":     reg.Name,
		"repositories": probeFor(reg).Catalog(r.Context()),
	})
}

func (s *Server) handleRegistryTags(w http.ResponseWriter, r *http.Request) {
	reg, err := s.registryByID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	repo := r.URL.Query().Get("repo")
	if repo == "" {
		writeError(w, r, errors.New(errors.InvalidInput, "repo is required"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"repo": repo,
		"tags": probeFor(reg).Tags(r.Context(), repo),
	})
}

func (s *Server) handleRegistryDeleteTag(w http.ResponseWriter, r *http.Request) {
	reg, err := s.registryByID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	repo := r.URL.Query().Get("repo")
	tag := r.URL.Query().Get("tag")
	if repo == "" || tag == "" {
		writeError(w, r, errors.New(errors.InvalidInput, "repo and tag are required"))
		return
	}
	if err := probeFor(reg).DeleteTag(r.Context(), repo, tag); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "repo": repo, "tag": tag})
}
