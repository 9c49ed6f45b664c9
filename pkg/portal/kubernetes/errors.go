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
	"errors"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// IsNotFound reports whether the API server answered 404.
func IsNotFound(err error) bool {
	return apierrors.IsNotFound(err)
}

// IsConflict reports whether the API server answered 409.
func IsConflict(err error) bool {
	return apierrors.IsConflict(err)
}

// ReasonOf extracts the API server's failure reason for operator-facing
// messages, falling back to the error text.
func ReasonOf(err error) string {
	var status apierrors.APIStatus
	if errors.As(err, &status) {
		st := status.Status()
		if st.Reason != "" {
			return string(st.Reason)
		}
		if st.Message != "" {
			return st.Message
		}
	}
	return err.Error()
}
