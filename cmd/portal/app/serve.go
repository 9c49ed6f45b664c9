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

package app

import (
	"context"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/hjunqq/hydrosim-platform/pkg/portal/auth"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/build"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/config"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/deploy"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/gitea"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/ingress"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/kubernetes"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/logstore"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/output/log"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/resources"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/server"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/status"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/store"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/webhook"
)

// NewCmdServe builds the serve command.
func NewCmdServe() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the portal API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overriding PORTAL_ADDR")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.MigrateUp(ctx); err != nil {
		return err
	}
	if err := bootstrapAdmin(ctx, cfg, st); err != nil {
		return err
	}

	kubernetes.Configure(cfg.KubeConfig, cfg.KubeContext)
	cluster, err := kubernetes.NewClusterClient()
	if err != nil {
		// Degraded mode: database-backed endpoints stay up, cluster
		// operations report DependencyUnavailable.
		log.Entry(ctx).Warnf("kubernetes client unavailable: %v", err)
		cluster = nil
	}

	logs, err := logstore.New(logstore.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		Secure:    cfg.MinioSecure,
	})
	if err != nil {
		log.Entry(ctx).Warnf("object store unavailable, build logs will not be archived: %v", err)
		logs = nil
	}
	if logs.Enabled() {
		if err := logs.EnsureBucket(ctx); err != nil {
			log.Entry(ctx).Warnf("preparing log bucket: %v", err)
		}
	}

	manager, err := auth.NewManager(auth.Config{
		Secret:             cfg.JWTSecret,
		TokenTTL:           cfg.TokenTTL,
		DeployTriggerToken: cfg.DeployTriggerToken,
	})
	if err != nil {
		return err
	}

	deployer := deploy.NewController(cluster, resources.Options{
		PVCEnabled:      cfg.PVCEnabled,
		PVCSize:         cfg.PVCSize,
		PVCStorageClass: cfg.PVCStorageClass,
		PVCMountPath:    cfg.PVCMountPath,
		TLSSecretName:   cfg.TLSSecretName,
	})
	orchestrator := build.NewOrchestrator(cluster, logs, build.GitHost{
		ExternalHost: hostOf(cfg.GiteaURL),
		InternalHost: cfg.GiteaSSHInternalHost,
		InternalPort: cfg.GiteaSSHInternalPort,
	}, deployer)

	if cluster != nil && cfg.TLSSecretName != "" {
		result := ingress.NewSyncer(cluster, cfg.TLSSecretName).Sync(ctx, nil)
		log.Entry(ctx).Infof("ingress TLS sync: %d patched, %d skipped, %d errors",
			result.Patched, result.Skipped, result.Errors)
	}

	srv := server.New(server.Deps{
		Store:       st,
		Auth:        manager,
		Cluster:     cluster,
		Deployer:    deployer,
		Builds:      orchestrator,
		Statuses:    status.NewAggregator(cluster),
		Intake:      webhook.NewIntake(cfg.GiteaWebhookSecret, orchestrator),
		Gitea:       gitea.NewClient(cfg.GiteaURL, cfg.GiteaToken),
		Logs:        logs,
		CORSOrigins: cfg.CORSOrigins,
	})
	return srv.Run(ctx, cfg.Addr)
}

// bootstrapAdmin creates the configured admin account on first start.
func bootstrapAdmin(ctx context.Context, cfg *config.Config, st *store.Store) error {
	if cfg.AdminUser == "" || cfg.AdminPassword == "" {
		return nil
	}
	hash, err := auth.HashPassword(cfg.AdminPassword)
	if err != nil {
		return err
	}
	created, err := st.EnsureAdminTeacher(ctx, cfg.AdminUser, hash)
	if err != nil {
		return err
	}
	if created {
		log.Entry(ctx).Infof("created admin account %q", cfg.AdminUser)
	}
	return nil
}

// hostOf reduces a base URL to its host name for clone URL rewriting.
func hostOf(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	if parsed, err := url.Parse(rawURL); err == nil && parsed.Hostname() != "" {
		return parsed.Hostname()
	}
	return rawURL
}
