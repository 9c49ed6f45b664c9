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

package testutil

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

type BadReader struct{}

func (BadReader) Read([]byte) (int, error) { return 0, fmt.Errorf("bad read") }

type BadWriter struct{}

func (BadWriter) Write([]byte) (int, error) { return 0, fmt.Errorf("bad write") }

type FakeReaderCloser struct {
	Err error
}

func (f FakeReaderCloser) Close() error             { return nil }
func (f FakeReaderCloser) Read([]byte) (int, error) { return 0, f.Err }

// T wraps testing.T with setup/teardown helpers used across the
// project's table driven tests.
type T struct {
	*testing.T
	teardownActions []func()
}

// Override replaces a package level variable for the duration of the
// test and restores the original value on teardown. dest must be a
// pointer to the variable.
func (t *T) Override(dest, tmp interface{}) {
	teardown, err := override(t.T, dest, tmp)
	if err != nil {
		t.Errorf("unable to override value: %v", err)
		return
	}
	t.teardownActions = append(t.teardownActions, teardown)
}

func (t *T) CheckDeepEqual(expected, actual interface{}, opts ...cmp.Option) {
	t.Helper()
	if diff := cmp.Diff(expected, actual, opts...); diff != "" {
		t.Errorf("%T differ (-got, +want): %s", expected, diff)
	}
}

func (t *T) CheckErrorAndDeepEqual(shouldErr bool, err error, expected, actual interface{}, opts ...cmp.Option) {
	t.Helper()
	if err := checkErr(shouldErr, err); err != nil {
		t.Error(err)
		return
	}
	t.CheckDeepEqual(expected, actual, opts...)
}

func (t *T) CheckError(shouldErr bool, err error) {
	t.Helper()
	CheckError(t.T, shouldErr, err)
}

// CheckErrorContains checks that an error occurred and contains the
// given message.
func (t *T) CheckErrorContains(message string, err error) {
	t.Helper()
	if err == nil {
		t.Error("expected error, but returned none")
		return
	}
	if !strings.Contains(err.Error(), message) {
		t.Errorf("expected message [%s] not found in error: %s", message, err.Error())
	}
}

func (t *T) CheckNoError(err error) {
	t.Helper()
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// RequireNoError stops the test on error. Use it for setup steps whose
// failure makes the remaining assertions meaningless.
func (t *T) RequireNoError(err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func (t *T) CheckTrue(condition bool) {
	t.Helper()
	if !condition {
		t.Error("expected true, but found false")
	}
}

func (t *T) CheckFalse(condition bool) {
	t.Helper()
	if condition {
		t.Error("expected false, but found true")
	}
}

func (t *T) CheckContains(expected, actual string) {
	t.Helper()
	if !strings.Contains(actual, expected) {
		t.Errorf("expected [%s] not found in [%s]", expected, actual)
	}
}

func (t *T) TearDown() {
	for i := len(t.teardownActions) - 1; i >= 0; i-- {
		t.teardownActions[i]()
	}
}

// Run runs a sub-test wrapped with a *T.
func Run(t *testing.T, name string, f func(t *T)) {
	if name == "" {
		name = t.Name()
	}
	t.Run(name, func(tsub *testing.T) {
		tsub.Helper()
		wrapper := &T{T: tsub}
		defer wrapper.TearDown()
		f(wrapper)
	})
}

func CheckDeepEqual(t *testing.T, expected, actual interface{}, opts ...cmp.Option) {
	t.Helper()
	if diff := cmp.Diff(expected, actual, opts...); diff != "" {
		t.Errorf("%T differ (-got, +want): %s", expected, diff)
	}
}

func CheckErrorAndDeepEqual(t *testing.T, shouldErr bool, err error, expected, actual interface{}, opts ...cmp.Option) {
	t.Helper()
	if err := checkErr(shouldErr, err); err != nil {
		t.Error(err)
		return
	}
	CheckDeepEqual(t, expected, actual, opts...)
}

func CheckError(t *testing.T, shouldErr bool, err error) {
	t.Helper()
	if err := checkErr(shouldErr, err); err != nil {
		t.Error(err)
	}
}

// EquateErrorMessage reports errors equal when both are nil or both
// have the same message.
func EquateErrorMessage() cmp.Option {
	return cmpopts.EquateErrors()
}

func checkErr(shouldErr bool, err error) error {
	if err == nil && shouldErr {
		return fmt.Errorf("expected error, but returned none")
	}
	if err != nil && !shouldErr {
		return fmt.Errorf("unexpected error: %s", err)
	}
	return nil
}
