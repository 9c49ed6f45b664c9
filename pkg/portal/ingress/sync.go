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

// Package ingress reconciles TLS settings on existing student
// ingresses once at startup. Ingresses created before the shared
// certificate was configured get their Traefik annotations and tls
// section backfilled.
package ingress

import (
	"context"
	"encoding/json"
	"strings"

	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"

	"github.com/hjunqq/hydrosim-platform/pkg/portal/kubernetes"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/output/log"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/resources"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/settings"
)

// Result counts sync outcomes across all namespaces.
type Result struct {
	Patched int `json:"patched"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// Syncer patches student ingresses to the configured TLS secret.
type Syncer struct {
	client     *kubernetes.ClusterClient
	secretName string
}

func NewSyncer(client *kubernetes.ClusterClient, secretName string) *Syncer {
	return &Syncer{client: client, secretName: secretName}
}

// isStudentManaged keeps the sync away from ingresses the portal does
// not own. Older deployments predate the managed-by label, so the
// student label and name prefix are accepted too.
func isStudentManaged(ing *networkingv1.Ingress) bool {
	if ing.Labels["managed-by"] == "portal-controller" {
		return true
	}
	if _, ok := ing.Labels["student"]; ok {
		return true
	}
	return strings.HasPrefix(ing.Name, "student-")
}

func collectHosts(ing *networkingv1.Ingress) []string {
	var hosts []string
	seen := map[string]bool{}
	for _, rule := range ing.Spec.Rules {
		if rule.Host != "" && !seen[rule.Host] {
			seen[rule.Host] = true
			hosts = append(hosts, rule.Host)
		}
	}
	return hosts
}

func needsPatch(ing *networkingv1.Ingress, secretName string, hosts []string) bool {
	if ing.Annotations[resources.EntrypointsAnnotation] != resources.EntrypointsWebSecure {
		return true
	}
	if ing.Annotations[resources.RouterTLSAnnotation] != "true" {
		return true
	}
	if ing.Annotations[resources.IngressClassAnnotation] != resources.IngressClass {
		return true
	}
	if ing.Spec.IngressClassName == nil || *ing.Spec.IngressClassName != resources.IngressClass {
		return true
	}

	existingHosts := map[string]bool{}
	existingSecrets := map[string]bool{}
	for _, tls := range ing.Spec.TLS {
		if tls.SecretName != "" {
			existingSecrets[tls.SecretName] = true
		}
		for _, host := range tls.Hosts {
			existingHosts[host] = true
		}
	}
	if !existingSecrets[secretName] {
		return true
	}
	for _, host := range hosts {
		if !existingHosts[host] {
			return true
		}
	}
	return false
}

// Sync walks the given namespaces, defaulting to the student
// namespaces, and patches every student ingress that is missing the
// TLS configuration. Failures never abort the walk.
func (s *Syncer) Sync(ctx context.Context, namespaces []string) Result {
	var result Result
	if s.secretName == "" {
		log.Entry(ctx).Info("student TLS secret not configured, skip TLS sync")
		return result
	}
	if kubernetes.Require(s.client) != nil {
		log.Entry(ctx).Warn("kubernetes client unavailable, skip TLS sync")
		return result
	}

	if len(namespaces) == 0 {
		for _, ns := range settings.StudentNamespaces() {
			namespaces = append(namespaces, ns.Namespace)
		}
	}

	for _, namespace := range namespaces {
		ingresses, err := s.client.NetworkingV1().Ingresses(namespace).List(ctx, metav1.ListOptions{})
		if err != nil {
			log.Entry(ctx).Warnf("failed to list ingresses in %s: %v", namespace, err)
			result.Errors++
			continue
		}
		for i := range ingresses.Items {
			ing := &ingresses.Items[i]
			if !isStudentManaged(ing) {
				continue
			}
			hosts := collectHosts(ing)
			if len(hosts) == 0 {
				result.Skipped++
				continue
			}
			if !needsPatch(ing, s.secretName, hosts) {
				result.Skipped++
				continue
			}
			if err := s.patch(ctx, namespace, ing, hosts); err != nil {
				log.Entry(ctx).Warnf("failed to patch ingress %s/%s: %v", namespace, ing.Name, err)
				result.Errors++
				continue
			}
			result.Patched++
		}
	}

	if result.Patched > 0 || result.Errors > 0 {
		log.Entry(ctx).Infof("student ingress TLS sync: patched=%d skipped=%d errors=%d",
			result.Patched, result.Skipped, result.Errors)
	}
	return result
}

func (s *Syncer) patch(ctx context.Context, namespace string, ing *networkingv1.Ingress, hosts []string) error {
	annotations := map[string]string{}
	for k, v := range ing.Annotations {
		annotations[k] = v
	}
	annotations[resources.IngressClassAnnotation] = resources.IngressClass
	annotations[resources.EntrypointsAnnotation] = resources.EntrypointsWebSecure
	annotations[resources.RouterTLSAnnotation] = "true"

	body, err := json.Marshal(map[string]interface{}{
		"metadata": map[string]interface{}{"annotations": annotations},
		"spec": map[string]interface{}{
			"ingressClassName": resources.IngressClass,
			"tls": []networkingv1.IngressTLS{{
				Hosts:      hosts,
				SecretName: s.secretName,
			}},
		},
	})
	if err != nil {
		return err
	}
	return kubernetes.OnTransient(ctx, func() error {
		_, err := s.client.NetworkingV1().Ingresses(namespace).Patch(ctx, ing.Name, types.StrategicMergePatchType, body, metav1.PatchOptions{})
		return err
	})
}
