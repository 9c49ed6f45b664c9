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
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/hjunqq/hydrosim-platform/testutil"
)

func TestVersionCommand(t *testing.T) {
	testutil.Run(t, "prints version information as json", func(t *testutil.T) {
		var out bytes.Buffer
		cmd := NewRootCommand(&out, &out)
		cmd.SetArgs([]string{"version"})

		t.RequireNoError(cmd.Execute())

		var info map[string]interface{}
		t.RequireNoError(json.Unmarshal(out.Bytes(), &info))
		t.CheckDeepEqual("dev", info["version"])
		t.CheckTrue(strings.Contains(info["platform"].(string), "/"))
	})
}

func TestRootCommand(t *testing.T) {
	testutil.Run(t, "registers the expected subcommands", func(t *testutil.T) {
		var out bytes.Buffer
		cmd := NewRootCommand(&out, &out)

		var names []string
		for _, sub := range cmd.Commands() {
			names = append(names, sub.Name())
		}
		for _, expected := range []string{"serve", "migrate", "version"} {
			found := false
			for _, name := range names {
				if name == expected {
					found = true
				}
			}
			t.CheckTrue(found)
		}
	})
}
