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

// Package server is the portal's HTTP surface: request routing, auth
// resolution and the JSON rendering of core operations.
package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/hjunqq/hydrosim-platform/pkg/portal/actor"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/auth"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/build"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/deploy"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/gitea"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/instrumentation"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/kubernetes"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/logstore"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/output/log"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/status"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/store"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/webhook"
)

// Server wires the core components behind the HTTP API.
type Server struct {
	store       *store.Store
	auth        *auth.Manager
	cluster     *kubernetes.ClusterClient
	deployer    *deploy.Controller
	builds      *build.Orchestrator
	statuses    *status.Aggregator
	intake      *webhook.Intake
	git         *gitea.Client
	logs        *logstore.Store
	corsOrigins []string
}

// Deps carries everything the server needs. Nil optional integrations
// degrade the corresponding endpoints.
type Deps struct {
	Store       *store.Store
	Auth        *auth.Manager
	Cluster     *kubernetes.ClusterClient
	Deployer    *deploy.Controller
	Builds      *build.Orchestrator
	Statuses    *status.Aggregator
	Intake      *webhook.Intake
	Gitea       *gitea.Client
	Logs        *logstore.Store
	CORSOrigins []string
}

func New(deps Deps) *Server {
	return &Server{
		store:       deps.Store,
		auth:        deps.Auth,
		cluster:     deps.Cluster,
		deployer:    deps.Deployer,
		builds:      deps.Builds,
		statuses:    deps.Statuses,
		intake:      deps.Intake,
		git:         deps.Gitea,
		logs:        deps.Logs,
		corsOrigins: deps.CORSOrigins,
	}
}

type actorKey struct{}

func withActor(ctx context.Context, a actor.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func actorFrom(ctx context.Context) actor.Actor {
	a, _ := ctx.Value(actorKey{}).(actor.Actor)
	return a
}

// requireActor resolves the request credentials to an actor or rejects
// the request.
func (s *Server) requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bearer := ""
		if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
			bearer = strings.TrimPrefix(header, "Bearer ")
		}
		a, err := s.auth.Resolve(r.Context(), &s.store.Queries, bearer, r.Header.Get("X-Deploy-Token"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), a)))
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		next.ServeHTTP(w, r)
		log.Entry(r.Context()).Debugf("%s %s (%s)", r.Method, r.URL.Path, time.Since(started))
	})
}

// Router assembles the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(instrumentation.Middleware)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Deploy-Token"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", instrumentation.Handler())
	r.Get("/version", s.handleVersion)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", s.handleLogin)
		r.Post("/webhooks/push", s.handleWebhook)

		r.Group(func(r chi.Router) {
			r.Use(s.requireActor)

			r.Post("/deploy/{code}", s.handleDeploy)
			r.Delete("/deploy/{code}", s.handleDelete)
			r.Get("/status", s.handleStatusAll)
			r.Get("/status/{code}", s.handleStatus)

			r.Post("/builds/trigger", s.handleBuildTrigger)
			r.Get("/builds/{id}", s.handleBuildGet)
			r.Get("/builds/{id}/logs", s.handleBuildLogs)

			r.Post("/build-configs/{studentID}/deploy-key", s.handleDeployKeyRotate)

			r.Get("/settings", s.handleSettingsGet)
			r.Put("/settings", s.handleSettingsPut)

			r.Post("/registries/test", s.handleRegistryTest)
			r.Get("/registries/{id}/catalog", s.handleRegistryCatalog)
			r.Get("/registries/{id}/tags", s.handleRegistryTags)
			r.Delete("/registries/{id}/tags", s.handleRegistryDeleteTag)
		})
	})
	return r
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()
	log.Entry(ctx).Infof("listening on %s", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
