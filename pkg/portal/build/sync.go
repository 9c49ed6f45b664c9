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

package build

import (
	"context"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/hjunqq/hydrosim-platform/pkg/portal/instrumentation"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/kubernetes"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/logstore"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/output/log"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/settings"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/store"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/util"
)

// Sync reconciles the recorded build with the live job status. It is
// called lazily whenever a non-terminal build is read; terminal builds
// pass through untouched. On a terminal transition it backfills
// timestamps, archives logs once and, when eligible, auto-deploys.
func (o *Orchestrator) Sync(ctx context.Context, q *store.Queries, build *store.Build) (*store.Build, error) {
	if build.Status.Terminal() || build.JobName == nil {
		return build, nil
	}
	if err := kubernetes.Require(o.client); err != nil {
		return build, nil
	}

	sys, err := settings.NewResolver(q).GetOrCreate(ctx)
	if err != nil {
		return build, err
	}
	namespace := settings.BuildNamespace(sys)

	job, err := o.client.BatchV1().Jobs(namespace).Get(ctx, *build.JobName, metav1.GetOptions{})
	if err != nil {
		if kubernetes.IsNotFound(err) {
			build.Status = store.BuildError
			build.Message = util.Ptr("Build job not found")
			return build, q.UpdateBuild(ctx, build)
		}
		return build, err
	}

	updated, finished := false, false
	switch {
	case job.Status.Succeeded > 0:
		build.Status = store.BuildSuccess
		build.Message = util.Ptr("Build succeeded")
		updated, finished = true, true
	case job.Status.Failed > 0:
		build.Status = store.BuildFailed
		build.Message = util.Ptr("Build failed")
		updated, finished = true, true
	case job.Status.Active > 0:
		if build.Status != store.BuildRunning {
			build.Status = store.BuildRunning
			build.Message = util.Ptr("Build running")
			updated = true
		}
	}

	if finished {
		now := timeNow()
		build.FinishedAt = util.Ptr(now)
		if build.StartedAt != nil {
			build.Duration = util.Ptr(int64(now.Sub(*build.StartedAt) / time.Second))
		}
		seconds := int64(0)
		if build.Duration != nil {
			seconds = *build.Duration
		}
		instrumentation.CountBuildCompleted(string(build.Status), seconds)
	}
	if updated {
		if err := q.UpdateBuild(ctx, build); err != nil {
			return build, err
		}
	}
	if finished {
		o.archiveLogs(ctx, q, build, namespace)
		o.autoDeploy(ctx, q, build)
	}
	return build, nil
}

// archiveLogs uploads the job's container logs exactly once. Failures
// are logged only; the build's terminal status never reverts.
func (o *Orchestrator) archiveLogs(ctx context.Context, q *store.Queries, build *store.Build, namespace string) {
	if build.LogObjectKey != nil || build.JobName == nil || !o.logs.Enabled() {
		return
	}
	content := o.collectJobLogs(ctx, namespace, *build.JobName)
	if content == "" {
		return
	}
	key := logstore.ObjectKey(build.ID, *build.JobName)
	if err := o.logs.Put(ctx, key, content); err != nil {
		log.Entry(ctx).Warnf("archiving logs for build %d: %v", build.ID, err)
		return
	}
	set, err := q.SetBuildLogKey(ctx, build.ID, key)
	if err != nil {
		log.Entry(ctx).Warnf("recording log key for build %d: %v", build.ID, err)
		return
	}
	if set {
		build.LogObjectKey = util.Ptr(key)
	}
}

// collectJobLogs reads the clone and kaniko container logs of the
// job's first pod, with timestamps, separated per container.
func (o *Orchestrator) collectJobLogs(ctx context.Context, namespace, jobName string) string {
	pods, err := o.client.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: "job-name=" + jobName,
	})
	if err != nil {
		log.Entry(ctx).Warnf("listing pods for job %s: %v", jobName, err)
		return ""
	}
	if len(pods.Items) == 0 {
		return ""
	}

	pod := pods.Items[0]
	var sections []string
	for _, container := range []string{"git-clone", "kaniko"} {
		body, err := o.client.CoreV1().Pods(namespace).GetLogs(pod.Name, &corev1.PodLogOptions{
			Container:  container,
			Timestamps: true,
		}).DoRaw(ctx)
		if err != nil {
			continue
		}
		if len(body) > 0 {
			sections = append(sections, "--- "+container+" ---", string(body))
		}
	}
	return strings.TrimSpace(strings.Join(sections, "\n"))
}

// autoDeploy hands a successful build's image to the deploy controller
// when the student's config asks for it and no deployment record
// references the build yet. Failures are logged and swallowed; the
// build stays success.
func (o *Orchestrator) autoDeploy(ctx context.Context, q *store.Queries, build *store.Build) {
	if build.Status != store.BuildSuccess || o.deployer == nil {
		return
	}
	cfg, err := q.GetBuildConfig(ctx, build.StudentID)
	if err != nil || cfg == nil || !cfg.AutoDeploy {
		return
	}
	exists, err := q.DeploymentExistsForBuild(ctx, build.ID)
	if err != nil || exists {
		return
	}
	student, err := q.GetStudent(ctx, build.StudentID)
	if err != nil || student == nil {
		return
	}
	sys, err := settings.NewResolver(q).GetOrCreate(ctx)
	if err != nil {
		return
	}
	registry, err := resolveRegistry(ctx, q, cfg, sys)
	if err != nil {
		return
	}
	imageRepo, err := resolveImageRepo(cfg, sys, registry, student.StudentCode)
	if err != nil || build.ImageTag == nil {
		return
	}
	image := imageRepo + ":" + *build.ImageTag

	if err := o.deployer.DeployForBuild(ctx, q, student, image, build.ID); err != nil {
		log.Entry(ctx).Warnf("auto deploy failed for build %d: %v", build.ID, err)
	}
}
