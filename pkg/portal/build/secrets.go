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
	"encoding/base64"
	"encoding/json"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	portalerrors "github.com/hjunqq/hydrosim-platform/pkg/portal/errors"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/kubernetes"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/settings"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/store"
)

// upsertSecret creates the secret, falling back to a replace when it
// already exists. Create-first avoids the read-then-write window; both
// writers compute equivalent bodies so the race stays benign.
func (o *Orchestrator) upsertSecret(ctx context.Context, secret *corev1.Secret) error {
	secrets := o.client.CoreV1().Secrets(secret.Namespace)
	err := kubernetes.OnTransient(ctx, func() error {
		_, err := secrets.Create(ctx, secret, metav1.CreateOptions{})
		return err
	})
	if err == nil {
		return nil
	}
	if !apierrors.IsAlreadyExists(err) {
		return portalerrors.Wrap(portalerrors.Cluster, err, "creating secret "+secret.Name)
	}
	err = kubernetes.OnTransient(ctx, func() error {
		_, err := secrets.Update(ctx, secret, metav1.UpdateOptions{})
		return err
	})
	if err != nil {
		return portalerrors.Wrap(portalerrors.Cluster, err, "replacing secret "+secret.Name)
	}
	return nil
}

// ensureGitSecret materializes the student's SSH deploy key for the
// clone init container.
func (o *Orchestrator) ensureGitSecret(ctx context.Context, namespace, name, privateKey string) error {
	return o.upsertSecret(ctx, &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Type:       corev1.SecretTypeOpaque,
		StringData: map[string]string{"id_rsa": privateKey},
	})
}

// ensureRegistrySecret materializes the push credentials as a
// dockerconfigjson secret keyed by the registry host.
func (o *Orchestrator) ensureRegistrySecret(ctx context.Context, namespace, name string, registry *store.Registry) error {
	if registry.Username == nil || *registry.Username == "" || registry.Password == nil || *registry.Password == "" {
		return portalerrors.New(portalerrors.InvalidInput, "Registry credentials are incomplete")
	}
	host := settings.RegistryHost(registry.URL)
	auth := base64.StdEncoding.EncodeToString([]byte(*registry.Username + ":" + *registry.Password))
	config := map[string]interface{}{
		"auths": map[string]interface{}{
			host: map[string]string{
				"username": *registry.Username,
				"password": *registry.Password,
				"auth":     auth,
			},
		},
	}
	body, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("encoding dockerconfig: %w", err)
	}
	return o.upsertSecret(ctx, &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Type:       corev1.SecretTypeDockerConfigJson,
		StringData: map[string]string{corev1.DockerConfigJsonKey: string(body)},
	})
}
