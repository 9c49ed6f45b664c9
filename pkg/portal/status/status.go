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

// Package status answers "what is the true state of student X right
// now?" by folding Deployment, Pod and container signals into one of
// five canonical states. All queries read the cluster on demand; there
// is no watch or cache.
package status

import (
	"context"
	"fmt"
	"strings"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/hjunqq/hydrosim-platform/pkg/portal/errors"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/kubernetes"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/naming"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/output/log"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/settings"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/store"
)

// State is one of the five canonical workload states.
type State string

const (
	NotDeployed State = "not_deployed"
	Deploying   State = "deploying"
	Running     State = "running"
	Error       State = "error"
	Stopped     State = "stopped"
)

// Waiting reasons that mean the workload cannot make progress without
// intervention.
var errorReasons = map[string]bool{
	"CrashLoopBackOff": true,
	"ImagePullBackOff": true,
	"ErrImagePull":     true,
}

// Result is the answer for one student.
type Result struct {
	Status        State  `json:"status"`
	Detail        string `json:"detail"`
	ReadyReplicas string `json:"ready_replicas"`
	Image         string `json:"image,omitempty"`
	Namespace     string `json:"namespace,omitempty"`
}

// Aggregator reads the cluster on demand.
type Aggregator struct {
	client *kubernetes.ClusterClient
}

func NewAggregator(client *kubernetes.ClusterClient) *Aggregator {
	return &Aggregator{client: client}
}

// Single resolves the namespace from the class key and folds the
// student's Deployment and, when it is not ready, its first Pod into a
// canonical state.
func (a *Aggregator) Single(ctx context.Context, studentCode string, class store.ProjectType) (Result, error) {
	if err := kubernetes.Require(a.client); err != nil {
		return Result{}, err
	}
	namespace, err := settings.NamespaceForClass(class)
	if err != nil {
		return Result{}, err
	}
	name := naming.ResourceName(studentCode)

	deployment, err := a.client.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if kubernetes.IsNotFound(err) {
			return Result{Status: NotDeployed, Detail: "Resource not found", ReadyReplicas: "0/0"}, nil
		}
		return Result{}, errors.Wrap(errors.Cluster, err, "reading deployment "+name)
	}

	var replicas int32
	if deployment.Spec.Replicas != nil {
		replicas = *deployment.Spec.Replicas
	}
	ready := deployment.Status.ReadyReplicas
	counts := fmt.Sprintf("%d/%d", ready, replicas)

	if replicas == 0 {
		return Result{Status: Stopped, Detail: "Scaled to 0", ReadyReplicas: "0/0"}, nil
	}
	if ready == replicas {
		var images []string
		for _, c := range deployment.Spec.Template.Spec.Containers {
			images = append(images, c.Image)
		}
		return Result{
			Status:        Running,
			Detail:        "All replicas ready",
			ReadyReplicas: counts,
			Image:         strings.Join(images, "\n"),
		}, nil
	}

	pods, err := a.client.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: naming.AppLabel + "=" + name,
	})
	if err != nil {
		return Result{}, errors.Wrap(errors.Cluster, err, "listing pods for "+name)
	}
	if len(pods.Items) == 0 {
		return Result{Status: Deploying, Detail: "Waiting for pods to be created...", ReadyReplicas: counts}, nil
	}

	pod := pods.Items[0]
	for _, cs := range pod.Status.ContainerStatuses {
		if waiting := cs.State.Waiting; waiting != nil && errorReasons[waiting.Reason] {
			return Result{
				Status:        Error,
				Detail:        fmt.Sprintf("Pod Error: %s - %s", waiting.Reason, waiting.Message),
				ReadyReplicas: counts,
			}, nil
		}
		if terminated := cs.State.Terminated; terminated != nil && terminated.ExitCode != 0 {
			return Result{
				Status:        Error,
				Detail:        fmt.Sprintf("Container Terminated with exit code %d", terminated.ExitCode),
				ReadyReplicas: counts,
			}, nil
		}
	}

	if pod.Status.Phase == corev1.PodPending {
		return Result{Status: Deploying, Detail: "Pod is Pending (scheduling or pulling image)", ReadyReplicas: counts}, nil
	}
	return Result{
		Status:        Deploying,
		Detail:        fmt.Sprintf("Pod Phase: %s, Waiting for readiness probe...", pod.Status.Phase),
		ReadyReplicas: counts,
	}, nil
}

// All scans every student namespace and classifies each student pod.
// The key is derived from the app label suffix, so codes altered by
// normalization appear under their normalized form here.
func (a *Aggregator) All(ctx context.Context) (map[string]Result, error) {
	if err := kubernetes.Require(a.client); err != nil {
		return nil, err
	}
	results := map[string]Result{}
	for _, cn := range settings.StudentNamespaces() {
		pods, err := a.client.CoreV1().Pods(cn.Namespace).List(ctx, metav1.ListOptions{})
		if err != nil {
			log.Entry(ctx).Warnf("listing pods in %s: %v", cn.Namespace, err)
			continue
		}
		for i := range pods.Items {
			pod := &pods.Items[i]
			code := naming.StudentCodeFromAppLabel(pod.Labels[naming.AppLabel])
			if code == "" {
				continue
			}
			result := classifyPod(pod)
			result.Namespace = cn.Namespace
			results[code] = result
		}
	}
	return results, nil
}

// BySelector aggregates every pod matching a label selector in one
// namespace. The platform's own components are queried this way. Error
// beats deploying beats running; the image list is deduplicated.
func (a *Aggregator) BySelector(ctx context.Context, namespace, selector string) (Result, error) {
	if err := kubernetes.Require(a.client); err != nil {
		return Result{}, err
	}
	pods, err := a.client.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return Result{}, errors.Wrap(errors.Cluster, err, "listing pods in "+namespace)
	}
	if len(pods.Items) == 0 {
		return Result{Status: NotDeployed, Detail: "No pods found", ReadyReplicas: "0/0", Namespace: namespace}, nil
	}

	aggregated := Result{Status: Running, Detail: "All pods ready", Namespace: namespace}
	ready, total := 0, len(pods.Items)
	var images []string
	seen := map[string]bool{}
	for i := range pods.Items {
		pod := &pods.Items[i]
		for _, c := range pod.Spec.Containers {
			if !seen[c.Image] {
				seen[c.Image] = true
				images = append(images, c.Image)
			}
		}
		result := classifyPod(pod)
		switch result.Status {
		case Error:
			aggregated.Status = Error
			aggregated.Detail = result.Detail
		case Deploying:
			if aggregated.Status != Error {
				aggregated.Status = Deploying
				aggregated.Detail = result.Detail
			}
		case Running:
			ready++
		}
	}
	aggregated.ReadyReplicas = fmt.Sprintf("%d/%d", ready, total)
	aggregated.Image = strings.Join(images, "\n")
	return aggregated, nil
}

// classifyPod is the simplified single-pod classifier the bulk queries
// share.
func classifyPod(pod *corev1.Pod) Result {
	image := ""
	if len(pod.Spec.Containers) > 0 {
		image = pod.Spec.Containers[0].Image
	}

	switch pod.Status.Phase {
	case corev1.PodRunning:
		allReady := len(pod.Status.ContainerStatuses) > 0
		for _, cs := range pod.Status.ContainerStatuses {
			if !cs.Ready {
				allReady = false
			}
		}
		if allReady {
			return Result{Status: Running, Detail: "Running", Image: image}
		}
		for _, cs := range pod.Status.ContainerStatuses {
			if waiting := cs.State.Waiting; waiting != nil && errorReasons[waiting.Reason] {
				return Result{Status: Error, Detail: waiting.Reason, Image: image}
			}
		}
		return Result{Status: Deploying, Detail: "Containers not ready", Image: image}
	case corev1.PodPending:
		for _, cs := range pod.Status.ContainerStatuses {
			if waiting := cs.State.Waiting; waiting != nil && errorReasons[waiting.Reason] {
				return Result{Status: Error, Detail: waiting.Reason, Image: image}
			}
		}
		return Result{Status: Deploying, Detail: "Pending", Image: image}
	case corev1.PodFailed, corev1.PodUnknown:
		return Result{Status: Error, Detail: string(pod.Status.Phase), Image: image}
	case corev1.PodSucceeded:
		return Result{Status: Stopped, Detail: "Succeeded", Image: image}
	}
	return Result{Status: Deploying, Detail: string(pod.Status.Phase), Image: image}
}
