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

package store

import "time"

// BuildStatus is the lifecycle state of a build row.
type BuildStatus string

const (
	BuildPending   BuildStatus = "pending"
	BuildRunning   BuildStatus = "running"
	BuildSuccess   BuildStatus = "success"
	BuildFailed    BuildStatus = "failed"
	BuildError     BuildStatus = "error"
	BuildCancelled BuildStatus = "cancelled"
)

// Terminal reports whether the status is sticky: a terminal build is
// never transitioned again, except to backfill its log object key.
func (s BuildStatus) Terminal() bool {
	switch s {
	case BuildSuccess, BuildFailed, BuildError, BuildCancelled:
		return true
	}
	return false
}

func (s BuildStatus) Valid() bool {
	switch s {
	case BuildPending, BuildRunning, BuildSuccess, BuildFailed, BuildError, BuildCancelled:
		return true
	}
	return false
}

// DeploymentStatus is the lifecycle state of a deployment record.
type DeploymentStatus string

const (
	DeploymentPending   DeploymentStatus = "pending"
	DeploymentDeploying DeploymentStatus = "deploying"
	DeploymentRunning   DeploymentStatus = "running"
	DeploymentFailed    DeploymentStatus = "failed"
)

func (s DeploymentStatus) Valid() bool {
	switch s {
	case DeploymentPending, DeploymentDeploying, DeploymentRunning, DeploymentFailed:
		return true
	}
	return false
}

// ProjectType is the cohort key a student belongs to. The deploy
// controller only accepts gd and cd; platform exists for the portal's
// own workloads and is recognized by the selector status query alone.
type ProjectType string

const (
	ProjectGD       ProjectType = "gd"
	ProjectCD       ProjectType = "cd"
	ProjectPlatform ProjectType = "platform"
)

// Role of an authenticated user.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

type Student struct {
	ID                int64       `db:"id"`
	StudentCode       string      `db:"student_code"`
	Name              string      `db:"name"`
	PasswordHash      *string     `db:"password_hash"`
	ProjectType       ProjectType `db:"project_type"`
	GitRepoURL        *string     `db:"git_repo_url"`
	ExpectedImageName *string     `db:"expected_image_name"`
	Domain            *string     `db:"domain"`
	TeacherID         *int64      `db:"teacher_id"`
	Role              Role        `db:"role"`
	IsActive          bool        `db:"is_active"`
	CreatedAt         time.Time   `db:"created_at"`
}

type Teacher struct {
	ID           int64     `db:"id"`
	Username     string    `db:"username"`
	PasswordHash string    `db:"password_hash"`
	Email        *string   `db:"email"`
	FullName     *string   `db:"full_name"`
	Department   *string   `db:"department"`
	Phone        *string   `db:"phone"`
	Role         Role      `db:"role"`
	IsActive     bool      `db:"is_active"`
	CreatedAt    time.Time `db:"created_at"`
}

// BuildConfig is the 1:1 build configuration of a student. The deploy
// key triple lives here; at most one pair exists per config.
type BuildConfig struct {
	StudentID            int64      `db:"student_id"`
	RepoURL              string     `db:"repo_url"`
	Branch               string     `db:"branch"`
	DockerfilePath       string     `db:"dockerfile_path"`
	ContextPath          string     `db:"context_path"`
	RegistryID           *string    `db:"registry_id"`
	ImageRepo            *string    `db:"image_repo"`
	TagStrategy          string     `db:"tag_strategy"`
	AutoBuild            bool       `db:"auto_build"`
	AutoDeploy           bool       `db:"auto_deploy"`
	DeployKeyPublic      *string    `db:"deploy_key_public"`
	DeployKeyPrivate     *string    `db:"deploy_key_private"`
	DeployKeyFingerprint *string    `db:"deploy_key_fingerprint"`
	DeployKeyCreatedAt   *time.Time `db:"deploy_key_created_at"`
	CreatedAt            time.Time  `db:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at"`
}

type Build struct {
	ID           int64       `db:"id"`
	StudentID    int64       `db:"student_id"`
	CommitSHA    string      `db:"commit_sha"`
	Branch       string      `db:"branch"`
	ImageTag     *string     `db:"image_tag"`
	Status       BuildStatus `db:"status"`
	Message      *string     `db:"message"`
	JobName      *string     `db:"job_name"`
	LogObjectKey *string     `db:"log_object_key"`
	StartedAt    *time.Time  `db:"started_at"`
	FinishedAt   *time.Time  `db:"finished_at"`
	Duration     *int64      `db:"duration"`
	CreatedAt    time.Time   `db:"created_at"`
}

// Deployment is the persisted record of one deploy attempt, distinct
// from the cluster Deployment object. The image_tag column holds the
// full image reference that was requested.
type Deployment struct {
	ID             int64            `db:"id"`
	StudentID      int64            `db:"student_id"`
	BuildID        *int64           `db:"build_id"`
	Image          string           `db:"image_tag"`
	Status         DeploymentStatus `db:"status"`
	Message        *string          `db:"message"`
	LastDeployTime *time.Time       `db:"last_deploy_time"`
	CreatedAt      time.Time        `db:"created_at"`
}

type Registry struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	URL       string    `db:"url"`
	Username  *string   `db:"username"`
	Password  *string   `db:"password"`
	IsActive  bool      `db:"is_active"`
	CreatedAt time.Time `db:"created_at"`
}

// SystemSetting is the singleton configuration row.
type SystemSetting struct {
	ID                       int64   `db:"id"`
	PlatformName             *string `db:"platform_name"`
	PortalTitle              *string `db:"portal_title"`
	StudentDomainPrefix      *string `db:"student_domain_prefix"`
	StudentDomainBase        *string `db:"student_domain_base"`
	BuildNamespace           *string `db:"build_namespace"`
	DefaultRegistryID        *string `db:"default_registry_id"`
	DefaultImageRepoTemplate *string `db:"default_image_repo_template"`
}

type Semester struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	StartDate time.Time `db:"start_date"`
	EndDate   time.Time `db:"end_date"`
	IsActive  bool      `db:"is_active"`
}
