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

package kaniko

import (
	"strings"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/hjunqq/hydrosim-platform/pkg/portal/util"
)

const (
	WorkspaceDir   = "/workspace"
	DefaultRepoDir = "/workspace/repo"

	GitCloneImage = "alpine/git:latest"
	ExecutorImage = "gcr.io/kaniko-project/executor:latest"

	// DefaultRegistrySecret is mounted even when no registry is
	// configured, so operators can pre-provision push credentials in
	// the build namespace.
	DefaultRegistrySecret = "kaniko-registry-auth"

	sshKeyMountPath       = "/etc/ssh-key"
	dockerConfigMountPath = "/kaniko/.docker/"
)

// JobParams carries everything needed to materialize one build job.
type JobParams struct {
	JobName            string
	Namespace          string
	Destinations       []string
	ContextPath        string
	DockerfilePath     string
	GitSecretName      string
	RegistrySecretName string
	RepoDir            string
	CloneScript        string
	Labels             map[string]string
}

// Job renders the build job: a git-clone init container feeding a
// Kaniko executor through a shared emptyDir, no retries, cleaned up an
// hour after completion.
func Job(params JobParams) *batchv1.Job {
	repoDir := params.RepoDir
	if repoDir == "" {
		repoDir = DefaultRepoDir
	}

	args := []string{
		"--dockerfile=" + DockerfilePath(repoDir, params.DockerfilePath),
		"--context=dir://" + ContextPath(repoDir, params.ContextPath),
	}
	for _, dest := range params.Destinations {
		args = append(args, "--destination="+dest)
	}
	args = append(args,
		"--cache=true",
		"--cache-run-layers=true",
		"--cache-copy-layers=true",
		"--compressed-caching=false",
	)

	volumes := []corev1.Volume{{
		Name:         "workspace",
		VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}},
	}}

	var initContainers []corev1.Container
	if params.CloneScript != "" {
		mounts := []corev1.VolumeMount{{Name: "workspace", MountPath: WorkspaceDir}}
		if params.GitSecretName != "" {
			mounts = append(mounts, corev1.VolumeMount{
				Name:      "git-secret",
				MountPath: sshKeyMountPath,
				ReadOnly:  true,
			})
			volumes = append(volumes, corev1.Volume{
				Name: "git-secret",
				VolumeSource: corev1.VolumeSource{
					Secret: &corev1.SecretVolumeSource{
						SecretName: params.GitSecretName,
						Optional:   util.Ptr(false),
					},
				},
			})
		}
		initContainers = append(initContainers, corev1.Container{
			Name:         "git-clone",
			Image:        GitCloneImage,
			Command:      []string{"/bin/sh", "-c"},
			Args:         []string{params.CloneScript},
			VolumeMounts: mounts,
		})
	}

	kanikoMounts := []corev1.VolumeMount{{Name: "workspace", MountPath: WorkspaceDir}}
	if params.RegistrySecretName != "" {
		kanikoMounts = append(kanikoMounts, corev1.VolumeMount{
			Name:      "registry-config",
			MountPath: dockerConfigMountPath,
		})
		volumes = append(volumes, corev1.Volume{
			Name: "registry-config",
			VolumeSource: corev1.VolumeSource{
				Secret: &corev1.SecretVolumeSource{
					SecretName: params.RegistrySecretName,
				},
			},
		})
	}

	labels := map[string]string{
		"app":      "kaniko-build",
		"job-name": params.JobName,
	}
	for k, v := range params.Labels {
		labels[k] = v
	}

	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      params.JobName,
			Namespace: params.Namespace,
			Labels:    labels,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            util.Ptr(int32(0)),
			TTLSecondsAfterFinished: util.Ptr(int32(3600)),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					RestartPolicy:  corev1.RestartPolicyNever,
					InitContainers: initContainers,
					Containers: []corev1.Container{{
						Name:         "kaniko",
						Image:        ExecutorImage,
						Args:         args,
						VolumeMounts: kanikoMounts,
					}},
					Volumes: volumes,
				},
			},
		},
	}
}

func normalizeRelative(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "." {
		return "."
	}
	return strings.TrimLeft(p, "/")
}

// ContextPath resolves the build context inside the cloned repo.
func ContextPath(repoDir, contextPath string) string {
	rel := normalizeRelative(contextPath)
	if rel == "." {
		return repoDir
	}
	return repoDir + "/" + rel
}

// DockerfilePath resolves the Dockerfile location. Absolute paths are
// taken as-is.
func DockerfilePath(repoDir, dockerfilePath string) string {
	if dockerfilePath == "" {
		return repoDir + "/Dockerfile"
	}
	dockerfilePath = strings.TrimSpace(dockerfilePath)
	if strings.HasPrefix(dockerfilePath, "/") {
		return dockerfilePath
	}
	rel := normalizeRelative(dockerfilePath)
	if rel == "." {
		return repoDir + "/Dockerfile"
	}
	return repoDir + "/" + rel
}
