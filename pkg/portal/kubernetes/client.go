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

// Package kubernetes owns the connection to the cluster API server and
// the retry policy for mutating calls.
package kubernetes

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/client-go/kubernetes"
	restclient "k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/hjunqq/hydrosim-platform/pkg/portal/output/log"

	// Initialize all known client auth plugins
	_ "k8s.io/client-go/plugin/pkg/client/auth"
)

// for tests
var Client = getClientset

var (
	lock         sync.Mutex
	initialized  bool
	clientCfg    *restclient.Config
	clientCfgErr error
)

// Configure resolves the REST client config once at startup. An
// explicit kubeconfig path or context takes precedence; otherwise the
// default loading rules apply, falling back to in-cluster config when
// no kubeconfig is found.
func Configure(kubeConfig, kubeContext string) {
	lock.Lock()
	defer lock.Unlock()

	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	loadingRules.ExplicitPath = kubeConfig
	cfg := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{
		CurrentContext: kubeContext,
	})

	clientCfg, clientCfgErr = cfg.ClientConfig()
	if kubeConfig == "" && kubeContext == "" && clientcmd.IsEmptyConfig(clientCfgErr) {
		log.Entry(context.TODO()).Debug("no kubeconfig found, attempting in-cluster config")
		clientCfg, clientCfgErr = restclient.InClusterConfig()
	}

	initialized = true
}

// GetRestClientConfig returns the cached REST client config for API
// calls against the Kubernetes API. The cache ensures every component
// works with the identical config even if it changed on disk.
func GetRestClientConfig() (*restclient.Config, error) {
	lock.Lock()
	defer lock.Unlock()

	if !initialized {
		return nil, errors.New("cannot call GetRestClientConfig() before Configure()")
	}
	return clientCfg, clientCfgErr
}

func getClientset() (kubernetes.Interface, error) {
	config, err := GetRestClientConfig()
	if err != nil {
		return nil, errors.Wrap(err, "getting client config for kubernetes client")
	}
	return kubernetes.NewForConfig(config)
}
