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

// Package build owns the lifecycle of a container build: trigger
// materializes secrets and submits a Kaniko job, sync lazily reconciles
// the recorded build with the live job and, on terminal transitions,
// archives logs and hands the image to the deploy controller.
package build

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	portalerrors "github.com/hjunqq/hydrosim-platform/pkg/portal/errors"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/kaniko"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/kubernetes"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/logstore"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/output/log"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/settings"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/store"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/util"
)

// for tests
var (
	timeNow   = func() time.Time { return time.Now().UTC() }
	randomHex = func() string { return fmt.Sprintf("%x", [16]byte(uuid.New()))[:6] }
)

// GitHost describes how the build namespace reaches the git service.
// SSH clone URLs pointing at ExternalHost are rewritten to
// InternalHost so jobs resolve the in-cluster service.
type GitHost struct {
	ExternalHost string
	InternalHost string
	InternalPort int
}

// Deployer is the slice of the deploy controller auto-deploy needs.
type Deployer interface {
	DeployForBuild(ctx context.Context, q *store.Queries, student *store.Student, image string, buildID int64) error
}

// Orchestrator drives build jobs in the build namespace.
type Orchestrator struct {
	client   *kubernetes.ClusterClient
	logs     *logstore.Store
	gitHost  GitHost
	deployer Deployer
}

func NewOrchestrator(client *kubernetes.ClusterClient, logs *logstore.Store, gitHost GitHost, deployer Deployer) *Orchestrator {
	return &Orchestrator{client: client, logs: logs, gitHost: gitHost, deployer: deployer}
}

// ResolveImageTag derives the deterministic tag for one build request.
func ResolveImageTag(tagStrategy, commitSHA, branch string) string {
	if tagStrategy == "branch_latest" && branch != "" {
		return branch + "-latest"
	}
	if commitSHA != "" && commitSHA != "latest" {
		if len(commitSHA) > 7 {
			return commitSHA[:7]
		}
		return commitSHA
	}
	return "manual-" + randomHex()
}

// resolveRegistry returns the build's push registry: the config's
// reference, else the system default, else nil.
func resolveRegistry(ctx context.Context, q *store.Queries, cfg *store.BuildConfig, sys *store.SystemSetting) (*store.Registry, error) {
	ref := cfg.RegistryID
	if ref == nil || *ref == "" {
		ref = sys.DefaultRegistryID
	}
	if ref == nil || *ref == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(*ref, 10, 64)
	if err != nil {
		return nil, nil
	}
	return q.GetRegistry(ctx, id)
}

// resolveImageRepo returns the repository builds push to: the config's
// literal, else the system template rendered for this student.
func resolveImageRepo(cfg *store.BuildConfig, sys *store.SystemSetting, registry *store.Registry, studentCode string) (string, error) {
	if cfg.ImageRepo != nil && *cfg.ImageRepo != "" {
		return *cfg.ImageRepo, nil
	}
	repo := settings.RenderImageRepo(settings.ImageRepoTemplate(sys), registry, studentCode)
	if repo == "" {
		return "", portalerrors.New(portalerrors.InvalidInput, "Image repository is not configured")
	}
	return repo, nil
}

// Trigger creates a pending build row, materializes the job's secrets
// and submits the Kaniko job. Failures after the row exists flip it to
// failed with the operator-facing message and are returned alongside
// the row.
func (o *Orchestrator) Trigger(ctx context.Context, q *store.Queries, studentID int64, commitSHA, branch string) (*store.Build, error) {
	cfg, err := q.GetBuildConfig(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("loading build config: %w", err)
	}
	if cfg == nil {
		return nil, portalerrors.New(portalerrors.NotFound, "Build config not found for student")
	}
	if cfg.RepoURL == "" {
		return nil, portalerrors.New(portalerrors.InvalidInput, "repo_url is required for builds")
	}
	student, err := q.GetStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("loading student: %w", err)
	}
	if student == nil {
		return nil, portalerrors.New(portalerrors.NotFound, "Student not found")
	}
	if commitSHA == "" {
		commitSHA = "latest"
	}
	if branch == "" {
		branch = cfg.Branch
	}

	sys, err := settings.NewResolver(q).GetOrCreate(ctx)
	if err != nil {
		return nil, err
	}
	registry, err := resolveRegistry(ctx, q, cfg, sys)
	if err != nil {
		return nil, fmt.Errorf("resolving registry: %w", err)
	}
	imageRepo, err := resolveImageRepo(cfg, sys, registry, student.StudentCode)
	if err != nil {
		return nil, err
	}
	imageTag := ResolveImageTag(cfg.TagStrategy, commitSHA, branch)

	build := &store.Build{
		StudentID: studentID,
		CommitSHA: commitSHA,
		Branch:    branch,
		ImageTag:  util.Ptr(imageTag),
		Status:    store.BuildPending,
		Message:   util.Ptr("Initializing..."),
	}
	if err := q.InsertBuild(ctx, build); err != nil {
		return nil, fmt.Errorf("recording build: %w", err)
	}

	jobName, err := o.submitJob(ctx, build, cfg, imageRepo+":"+imageTag, sys, registry)
	if err != nil {
		build.Status = store.BuildFailed
		build.Message = util.Ptr(portalerrors.MessageOf(err))
		if updateErr := q.UpdateBuild(ctx, build); updateErr != nil {
			log.Entry(ctx).Errorf("marking build %d failed: %v", build.ID, updateErr)
		}
		return build, err
	}

	build.Status = store.BuildRunning
	build.JobName = util.Ptr(jobName)
	build.StartedAt = util.Ptr(timeNow())
	build.Message = util.Ptr("Job submitted")
	if err := q.UpdateBuild(ctx, build); err != nil {
		return build, fmt.Errorf("recording job submission: %w", err)
	}
	return build, nil
}

func (o *Orchestrator) submitJob(ctx context.Context, build *store.Build, cfg *store.BuildConfig, destination string, sys *store.SystemSetting, registry *store.Registry) (string, error) {
	if err := kubernetes.Require(o.client); err != nil {
		return "", err
	}
	namespace := settings.BuildNamespace(sys)
	jobName := fmt.Sprintf("build-%d-%s", build.ID, randomHex())

	cloneURL := cfg.RepoURL
	useSSH := kaniko.IsSSH(cloneURL)
	if useSSH {
		cloneURL = kaniko.RewriteHost(cloneURL, o.gitHost.InternalHost, o.gitHost.InternalPort, o.gitHost.ExternalHost)
	}

	gitSecretName := ""
	if useSSH {
		if cfg.DeployKeyPrivate == nil || *cfg.DeployKeyPrivate == "" {
			return "", portalerrors.New(portalerrors.InvalidInput, "Deploy key is required for SSH clones")
		}
		gitSecretName = fmt.Sprintf("student-deploy-key-%d", build.StudentID)
		if err := o.ensureGitSecret(ctx, namespace, gitSecretName, *cfg.DeployKeyPrivate); err != nil {
			return "", err
		}
	}

	registrySecretName := kaniko.DefaultRegistrySecret
	if registry != nil {
		registrySecretName = fmt.Sprintf("kaniko-registry-auth-%d", registry.ID)
		if err := o.ensureRegistrySecret(ctx, namespace, registrySecretName, registry); err != nil {
			return "", err
		}
	}

	gitHost, gitPort := "", 0
	if useSSH {
		gitHost, gitPort = kaniko.ExtractHostAndPort(cloneURL)
	}
	script := kaniko.CloneScript(cloneURL, build.CommitSHA, build.Branch, kaniko.DefaultRepoDir, gitHost, gitPort)

	job := kaniko.Job(kaniko.JobParams{
		JobName:            jobName,
		Namespace:          namespace,
		Destinations:       []string{destination},
		ContextPath:        cfg.ContextPath,
		DockerfilePath:     cfg.DockerfilePath,
		GitSecretName:      gitSecretName,
		RegistrySecretName: registrySecretName,
		CloneScript:        script,
		Labels: map[string]string{
			"build-id":   strconv.FormatInt(build.ID, 10),
			"student-id": strconv.FormatInt(build.StudentID, 10),
		},
	})

	err := kubernetes.OnTransient(ctx, func() error {
		_, err := o.client.BatchV1().Jobs(namespace).Create(ctx, job, metav1.CreateOptions{})
		return err
	})
	if err != nil {
		return "", portalerrors.Wrap(portalerrors.Cluster, err, "Failed to create build job: "+kubernetes.ReasonOf(err))
	}
	log.Entry(ctx).Infof("submitted build job %s/%s for build %d", namespace, jobName, build.ID)
	return jobName, nil
}
