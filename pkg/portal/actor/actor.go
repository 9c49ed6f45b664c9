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

// Package actor models the authenticated caller as a tagged variant and
// provides the authorization predicates the deploy surface enforces.
package actor

import (
	"github.com/hjunqq/hydrosim-platform/pkg/portal/errors"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/store"
)

// Kind tags the actor variant.
type Kind int

const (
	// Admin is unrestricted.
	Admin Kind = iota
	// Teacher may act on students it owns.
	Teacher
	// Student may act on itself.
	Student
	// DeployToken is a signed trigger permitted only to deploy; never
	// to delete, list or rotate keys.
	DeployToken
)

// Actor is the authenticated caller.
type Actor struct {
	Kind Kind
	// ID is the teacher or student row id; zero for Admin and
	// DeployToken.
	ID int64
	// StudentCode is set for Student actors.
	StudentCode string
}

func (a Actor) String() string {
	switch a.Kind {
	case Admin:
		return "admin"
	case Teacher:
		return "teacher"
	case Student:
		return "student"
	case DeployToken:
		return "deploy-token"
	}
	return "unknown"
}

// CanAccessStudent reports whether the actor may act on the target
// student at all. DeployTokens pass here; operation-specific predicates
// restrict them further.
func CanAccessStudent(a Actor, target *store.Student) error {
	switch a.Kind {
	case Admin, DeployToken:
		return nil
	case Teacher:
		if target.TeacherID != nil && *target.TeacherID != a.ID {
			return errors.New(errors.Forbidden, "Not authorized for this student")
		}
		return nil
	case Student:
		if a.StudentCode != target.StudentCode {
			return errors.New(errors.Forbidden, "Not authorized for this student")
		}
		return nil
	}
	return errors.New(errors.Forbidden, "Insufficient permissions")
}

// CanDeploy gates the deploy operation.
func CanDeploy(a Actor, target *store.Student) error {
	return CanAccessStudent(a, target)
}

// CanDelete gates workload deletion. Deploy tokens and students are
// never allowed.
func CanDelete(a Actor, target *store.Student) error {
	switch a.Kind {
	case DeployToken:
		return errors.New(errors.Forbidden, "Deploy token cannot delete resources")
	case Student:
		return errors.New(errors.Forbidden, "Not authorized to delete deployments")
	}
	return CanAccessStudent(a, target)
}

// CanListClusterResources gates the bulk cluster views.
func CanListClusterResources(a Actor) error {
	switch a.Kind {
	case Admin, Teacher:
		return nil
	case DeployToken:
		return errors.New(errors.Forbidden, "Deploy token cannot access cluster resources")
	}
	return errors.New(errors.Forbidden, "Not authorized to view cluster resources")
}

// CanRotateDeployKey gates deploy-key generation and rotation. Students
// and deploy tokens are never allowed.
func CanRotateDeployKey(a Actor, target *store.Student) error {
	switch a.Kind {
	case Student:
		return errors.New(errors.Forbidden, "Students cannot rotate deploy keys")
	case DeployToken:
		return errors.New(errors.Forbidden, "Deploy token cannot rotate deploy keys")
	}
	return CanAccessStudent(a, target)
}

// CanManageSettings gates the settings admin surface.
func CanManageSettings(a Actor) error {
	if a.Kind != Admin {
		return errors.New(errors.Forbidden, "Insufficient permissions")
	}
	return nil
}
