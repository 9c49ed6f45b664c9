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

package log

import (
	"context"

	"github.com/sirupsen/logrus"
)

type contextKey struct{}

var ContextKey = contextKey{}

// EventContext identifies the component and the subject (student code,
// build id, request id) an operation is acting on.
type EventContext struct {
	Component string
	Subject   string
}

// WithEventContext returns a context whose log entries carry the given
// component and subject fields.
func WithEventContext(ctx context.Context, component, subject string) context.Context {
	return context.WithValue(ctx, ContextKey, EventContext{Component: component, Subject: subject})
}

// Entry takes a context.Context and constructs a logrus.Entry from it,
// adding fields for component and subject information.
func Entry(ctx context.Context) *logrus.Entry {
	val := ctx.Value(ContextKey)
	if eventContext, ok := val.(EventContext); ok {
		return logrus.WithFields(logrus.Fields{
			"component": eventContext.Component,
			"subject":   eventContext.Subject,
		})
	}

	// "portal" is the highest level component we can default to when
	// one isn't specified.
	return logrus.WithField("component", "portal")
}
