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

// Package errors carries the portal's error taxonomy. Handlers map each
// kind to an HTTP status; core components attach the operator-facing
// message that is also persisted on failed Build and Deployment rows.
package errors

import (
	"errors"
	"fmt"
)

type Kind int

const (
	Unknown Kind = iota
	// InvalidInput covers unknown class keys, mismatched project
	// classes, missing required configuration and malformed webhook
	// payloads.
	InvalidInput
	// NotFound covers absent students, builds, deployments and
	// registries.
	NotFound
	// Forbidden covers failed role checks, webhook signature mismatches
	// and students attempting key rotation.
	Forbidden
	// Cluster covers non-404, non-409 Kubernetes API failures.
	Cluster
	// DependencyUnavailable covers an uninitialized Kubernetes client
	// or a disabled object store.
	DependencyUnavailable
	// StateConflict covers operations against rows in the wrong state,
	// such as deploying a build that did not succeed.
	StateConflict
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid input"
	case NotFound:
		return "not found"
	case Forbidden:
		return "forbidden"
	case Cluster:
		return "cluster error"
	case DependencyUnavailable:
		return "dependency unavailable"
	case StateConflict:
		return "state conflict"
	default:
		return "unknown"
	}
}

// Error is a classified portal error. The message is user visible.
type Error struct {
	kind  Kind
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil && e.msg != "" {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	if e.cause != nil {
		return e.cause.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Kind() Kind { return e.kind }

// Message returns the user visible message without the cause chain.
func (e *Error) Message() string {
	if e.msg != "" {
		return e.msg
	}
	if e.cause != nil {
		return e.cause.Error()
	}
	return e.kind.String()
}

func New(kind Kind, msg string) error {
	return &Error{kind: kind, msg: msg}
}

func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, cause error, msg string) error {
	return &Error{kind: kind, msg: msg, cause: cause}
}

// KindOf walks the error chain and returns the first portal kind found,
// or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return Unknown
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// MessageOf returns the user visible message for an error, falling back
// to Error() for unclassified errors.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
