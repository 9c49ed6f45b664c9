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

// Package deploy reconciles a desired (student, image) pair into the
// cluster objects carrying the workload. A Deployment record is written
// before any cluster mutation so every attempt stays attributable.
package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"

	portalerrors "github.com/hjunqq/hydrosim-platform/pkg/portal/errors"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/kubernetes"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/naming"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/output/log"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/resources"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/settings"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/store"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/util"
)

// for tests
var timeNow = func() time.Time { return time.Now().UTC() }

// Result reports one deploy call.
type Result struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	URL     string `json:"url"`
}

// DeleteResult reports one delete call. Deleted holds the kinds
// removed; Errors any non-404 failures.
type DeleteResult struct {
	Status  string   `json:"status"`
	Deleted []string `json:"deleted,omitempty"`
	Errors  []string `json:"errors,omitempty"`
	Message string   `json:"message"`
}

// Controller applies the desired state of one student to the cluster.
type Controller struct {
	client *kubernetes.ClusterClient
	opts   resources.Options
}

func NewController(client *kubernetes.ClusterClient, opts resources.Options) *Controller {
	return &Controller{client: client, opts: opts}
}

// Deploy creates or updates the student's workload to run the given
// image. BuildID links the resulting record to the build it came from,
// or is nil for manual deploys.
func (c *Controller) Deploy(ctx context.Context, q *store.Queries, student *store.Student, image string, class store.ProjectType, buildID *int64) (Result, error) {
	namespace, err := settings.NamespaceForClass(class)
	if err != nil {
		return Result{}, err
	}
	if student.ProjectType != class {
		return Result{}, portalerrors.New(portalerrors.InvalidInput, "Project type mismatch")
	}
	if err := kubernetes.Require(c.client); err != nil {
		return Result{}, err
	}

	sys, err := settings.NewResolver(q).GetOrCreate(ctx)
	if err != nil {
		return Result{}, err
	}
	hostPrefix, domainSuffix, fullDomain := settings.DomainParts(sys, student.StudentCode, class)

	record := &store.Deployment{
		StudentID:      student.ID,
		BuildID:        buildID,
		Image:          image,
		Status:         store.DeploymentDeploying,
		Message:        util.Ptr("Deployment requested"),
		LastDeployTime: util.Ptr(timeNow()),
	}
	if err := q.InsertDeployment(ctx, record); err != nil {
		return Result{}, fmt.Errorf("recording deployment attempt: %w", err)
	}

	builder := resources.NewBuilder(student.StudentCode, image, namespace, domainSuffix, hostPrefix, c.opts)
	name := builder.Name()
	log.Entry(ctx).Infof("starting deployment for %s in %s, image=%s", student.StudentCode, namespace, image)

	resultStatus, err := c.apply(ctx, namespace, builder)
	if err != nil {
		c.fail(ctx, q, record, err)
		return Result{}, err
	}

	message := fmt.Sprintf("Project %s successfully %s", name, resultStatus)
	record.Status = store.DeploymentRunning
	record.Message = util.Ptr(message)
	record.LastDeployTime = util.Ptr(timeNow())
	if err := q.UpdateDeployment(ctx, record); err != nil {
		return Result{}, fmt.Errorf("finalizing deployment record: %w", err)
	}
	if student.Domain == nil || *student.Domain != fullDomain {
		if err := q.UpdateStudentDomain(ctx, student.ID, fullDomain); err != nil {
			return Result{}, fmt.Errorf("updating student domain: %w", err)
		}
		student.Domain = util.Ptr(fullDomain)
	}

	return Result{
		Status:  resultStatus,
		Message: message,
		URL:     "http://" + fullDomain,
	}, nil
}

// DeployForBuild deploys a freshly built image under the student's own
// class key, linking the record to the build.
func (c *Controller) DeployForBuild(ctx context.Context, q *store.Queries, student *store.Student, image string, buildID int64) error {
	_, err := c.Deploy(ctx, q, student, image, student.ProjectType, util.Ptr(buildID))
	return err
}

// apply materializes the object graph and returns "created" or
// "updated".
func (c *Controller) apply(ctx context.Context, namespace string, builder *resources.Builder) (string, error) {
	name := builder.Name()
	built := builder.All()

	_, err := c.client.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
	exists := true
	if err != nil {
		if !kubernetes.IsNotFound(err) {
			return "", clusterError(err, "reading deployment "+name)
		}
		exists = false
	}

	if built.PVC != nil {
		err := kubernetes.OnTransient(ctx, func() error {
			_, err := c.client.CoreV1().PersistentVolumeClaims(namespace).Create(ctx, built.PVC, metav1.CreateOptions{})
			return err
		})
		if err != nil && !errors.IsAlreadyExists(err) {
			return "", clusterError(err, "creating pvc "+name)
		}
	}

	resultStatus := "updated"
	if exists {
		// Full template replace so probe, resource and env changes
		// land, not just the image.
		patch, err := json.Marshal(map[string]interface{}{
			"spec": map[string]interface{}{
				"template": built.Deployment.Spec.Template,
			},
		})
		if err != nil {
			return "", fmt.Errorf("encoding deployment patch: %w", err)
		}
		err = kubernetes.OnTransient(ctx, func() error {
			_, err := c.client.AppsV1().Deployments(namespace).Patch(ctx, name, types.StrategicMergePatchType, patch, metav1.PatchOptions{})
			return err
		})
		if err != nil {
			return "", clusterError(err, "patching deployment "+name)
		}
	} else {
		err := kubernetes.OnTransient(ctx, func() error {
			_, err := c.client.AppsV1().Deployments(namespace).Create(ctx, built.Deployment, metav1.CreateOptions{})
			return err
		})
		if err != nil {
			return "", clusterError(err, "creating deployment "+name)
		}
		err = kubernetes.OnTransient(ctx, func() error {
			_, err := c.client.CoreV1().Services(namespace).Create(ctx, built.Service, metav1.CreateOptions{})
			return err
		})
		if err != nil && !errors.IsAlreadyExists(err) {
			return "", clusterError(err, "creating service "+name)
		}
		resultStatus = "created"
	}

	if err := c.reconcileIngress(ctx, namespace, built); err != nil {
		return "", err
	}
	return resultStatus, nil
}

// reconcileIngress patches an existing ingress to the freshly built
// annotations and spec, or creates it when absent. Runs on both the
// create and update paths so TLS settings converge.
func (c *Controller) reconcileIngress(ctx context.Context, namespace string, built resources.Resources) error {
	name := built.Ingress.Name
	_, err := c.client.NetworkingV1().Ingresses(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if !kubernetes.IsNotFound(err) {
			return clusterError(err, "reading ingress "+name)
		}
		err = kubernetes.OnTransient(ctx, func() error {
			_, err := c.client.NetworkingV1().Ingresses(namespace).Create(ctx, built.Ingress, metav1.CreateOptions{})
			return err
		})
		if err != nil && !errors.IsAlreadyExists(err) {
			return clusterError(err, "creating ingress "+name)
		}
		return nil
	}

	patch, err := json.Marshal(map[string]interface{}{
		"metadata": map[string]interface{}{
			"annotations": built.Ingress.Annotations,
		},
		"spec": built.Ingress.Spec,
	})
	if err != nil {
		return fmt.Errorf("encoding ingress patch: %w", err)
	}
	err = kubernetes.OnTransient(ctx, func() error {
		_, err := c.client.NetworkingV1().Ingresses(namespace).Patch(ctx, name, types.StrategicMergePatchType, patch, metav1.PatchOptions{})
		return err
	})
	if err != nil {
		return clusterError(err, "patching ingress "+name)
	}
	return nil
}

// fail marks the record failed with the operator-facing reason. The
// record write is best-effort: the original error is what callers see.
func (c *Controller) fail(ctx context.Context, q *store.Queries, record *store.Deployment, cause error) {
	record.Status = store.DeploymentFailed
	record.Message = util.Ptr(portalerrors.MessageOf(cause))
	record.LastDeployTime = util.Ptr(timeNow())
	if err := q.UpdateDeployment(ctx, record); err != nil {
		log.Entry(ctx).Errorf("marking deployment record %d failed: %v", record.ID, err)
	}
}

// Delete removes the student's Ingress, Service and Deployment in that
// order. Absent resources are success-per-resource.
func (c *Controller) Delete(ctx context.Context, student *store.Student, class store.ProjectType) (DeleteResult, error) {
	namespace, err := settings.NamespaceForClass(class)
	if err != nil {
		return DeleteResult{}, err
	}
	if err := kubernetes.Require(c.client); err != nil {
		return DeleteResult{}, err
	}
	name := naming.ResourceName(student.StudentCode)

	var deleted, errs []string
	steps := []struct {
		kind   string
		remove func() error
	}{
		{"Ingress", func() error {
			return c.client.NetworkingV1().Ingresses(namespace).Delete(ctx, name, metav1.DeleteOptions{})
		}},
		{"Service", func() error {
			return c.client.CoreV1().Services(namespace).Delete(ctx, name, metav1.DeleteOptions{})
		}},
		{"Deployment", func() error {
			return c.client.AppsV1().Deployments(namespace).Delete(ctx, name, metav1.DeleteOptions{})
		}},
	}
	for _, step := range steps {
		if err := step.remove(); err != nil {
			if !kubernetes.IsNotFound(err) {
				errs = append(errs, fmt.Sprintf("%s: %s", step.kind, kubernetes.ReasonOf(err)))
			}
			continue
		}
		deleted = append(deleted, step.kind)
	}

	if len(deleted) == 0 && len(errs) == 0 {
		return DeleteResult{Status: "not_found", Message: "No resources found to delete"}, nil
	}
	return DeleteResult{
		Status:  "success",
		Deleted: deleted,
		Errors:  errs,
		Message: "Deleted: " + joinKinds(deleted),
	}, nil
}

func joinKinds(kinds []string) string {
	out := ""
	for i, k := range kinds {
		if i > 0 {
			out += ", "
		}
		out += k
	}
	return out
}

func clusterError(err error, op string) error {
	return portalerrors.Wrap(portalerrors.Cluster, fmt.Errorf("%s: %w", op, err), "Kubernetes Operation Failed: "+kubernetes.ReasonOf(err))
}
