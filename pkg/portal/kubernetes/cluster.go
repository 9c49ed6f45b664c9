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

package kubernetes

import (
	"k8s.io/client-go/kubernetes"

	portalerrors "github.com/hjunqq/hydrosim-platform/pkg/portal/errors"
)

// ClusterClient carries the typed clientset every cluster-facing
// component receives at construction.
type ClusterClient struct {
	kubernetes.Interface
}

// NewClusterClient connects using the configured REST client config.
func NewClusterClient() (*ClusterClient, error) {
	clientset, err := Client()
	if err != nil {
		return nil, err
	}
	return &ClusterClient{Interface: clientset}, nil
}

// NewFromInterface wraps an existing clientset. Tests pass fake
// clientsets through here.
func NewFromInterface(clientset kubernetes.Interface) *ClusterClient {
	return &ClusterClient{Interface: clientset}
}

// Require reports a dependency failure when no cluster client is
// configured. Operations that mutate the cluster call this before any
// database write.
func Require(c *ClusterClient) error {
	if c == nil || c.Interface == nil {
		return portalerrors.New(portalerrors.DependencyUnavailable, "Kubernetes client unavailable")
	}
	return nil
}
