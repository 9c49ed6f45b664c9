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

// Package config loads the portal's process configuration from the
// environment, optionally seeded from a .env file.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Config is the full process configuration. Empty optional values
// disable the corresponding integration.
type Config struct {
	// Server
	Addr        string
	Environment string
	LogLevel    string
	CORSOrigins []string

	// Persistence
	DatabaseURL string

	// Auth
	JWTSecret          string
	TokenTTL           time.Duration
	DeployTriggerToken string
	AdminUser          string
	AdminPassword      string

	// Git host
	GiteaURL             string
	GiteaToken           string
	GiteaWebhookSecret   string
	GiteaSSHInternalHost string
	GiteaSSHInternalPort int

	// Object store
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioSecure    bool

	// Kubernetes
	KubeConfig  string
	KubeContext string

	// Student workloads
	TLSSecretName   string
	PVCEnabled      bool
	PVCSize         string
	PVCStorageClass string
	PVCMountPath    string
}

// Load reads the configuration. A non-empty envFile is loaded first
// without overriding variables already present in the environment.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, errors.Wrapf(err, "loading %s", envFile)
			}
		}
	}

	cfg := &Config{
		Addr:        getString("PORTAL_ADDR", ":8000"),
		Environment: getString("PORTAL_ENV", "development"),
		LogLevel:    getString("LOG_LEVEL", "info"),
		CORSOrigins: getList("BACKEND_CORS_ORIGINS", []string{"*"}),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		JWTSecret:          getString("JWT_SECRET_KEY", "change-me"),
		TokenTTL:           time.Duration(getInt("JWT_ACCESS_TOKEN_EXPIRE_MINUTES", 1440)) * time.Minute,
		DeployTriggerToken: os.Getenv("DEPLOY_TRIGGER_TOKEN"),
		AdminUser:          getString("PORTAL_ADMIN_USER", "teacher"),
		AdminPassword:      getString("PORTAL_ADMIN_PASSWORD", "changeme"),

		GiteaURL:             os.Getenv("GITEA_URL"),
		GiteaToken:           os.Getenv("GITEA_TOKEN"),
		GiteaWebhookSecret:   os.Getenv("GITEA_WEBHOOK_SECRET"),
		GiteaSSHInternalHost: os.Getenv("GITEA_SSH_INTERNAL_HOST"),
		GiteaSSHInternalPort: getInt("GITEA_SSH_INTERNAL_PORT", 22),

		MinioEndpoint:  os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getString("MINIO_BUCKET", "hydrosim-platform"),
		MinioSecure:    getBool("MINIO_SECURE", false),

		KubeConfig:  os.Getenv("K8S_CONFIG_PATH"),
		KubeContext: os.Getenv("K8S_CONTEXT"),

		TLSSecretName:   os.Getenv("STUDENT_TLS_SECRET_NAME"),
		PVCEnabled:      getBool("STUDENT_PVC_ENABLED", false),
		PVCSize:         getString("STUDENT_PVC_SIZE", "1Gi"),
		PVCStorageClass: os.Getenv("STUDENT_PVC_STORAGE_CLASS"),
		PVCMountPath:    getString("STUDENT_PVC_MOUNT_PATH", "/data"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	return cfg, nil
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
