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

package settings

import (
	"context"
	"testing"

	"github.com/hjunqq/hydrosim-platform/pkg/portal/errors"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/store"
	"github.com/hjunqq/hydrosim-platform/pkg/portal/util"
	"github.com/hjunqq/hydrosim-platform/testutil"
)

type fakeSettingsStore struct {
	settings *store.SystemSetting
	inserts  int
	updates  int
}

func (f *fakeSettingsStore) GetSettings(context.Context) (*store.SystemSetting, error) {
	return f.settings, nil
}

func (f *fakeSettingsStore) InsertSettings(context.Context) (*store.SystemSetting, error) {
	f.inserts++
	f.settings = &store.SystemSetting{ID: 1}
	return f.settings, nil
}

func (f *fakeSettingsStore) UpdateSettings(_ context.Context, s *store.SystemSetting) error {
	f.updates++
	f.settings = s
	return nil
}

func TestGetOrCreate(t *testing.T) {
	testutil.Run(t, "first use inserts and backfills defaults", func(t *testutil.T) {
		fake := &fakeSettingsStore{}

		s, err := NewResolver(fake).GetOrCreate(context.Background())

		t.RequireNoError(err)
		t.CheckDeepEqual(1, fake.inserts)
		t.CheckDeepEqual(1, fake.updates)
		t.CheckDeepEqual("stu-", *s.StudentDomainPrefix)
		t.CheckDeepEqual("hydrosim.cn", *s.StudentDomainBase)
		t.CheckDeepEqual("hydrosim", *s.BuildNamespace)
		t.CheckDeepEqual("{{registry}}/hydrosim/{{student_code}}", *s.DefaultImageRepoTemplate)
	})

	testutil.Run(t, "empty prefix survives backfill", func(t *testutil.T) {
		fake := &fakeSettingsStore{settings: &store.SystemSetting{
			ID:                       1,
			StudentDomainPrefix:      util.Ptr(""),
			StudentDomainBase:        util.Ptr("example.org"),
			BuildNamespace:           util.Ptr("builds"),
			DefaultImageRepoTemplate: util.Ptr("reg.example.org/apps/{{student_code}}"),
		}}

		s, err := NewResolver(fake).GetOrCreate(context.Background())

		t.RequireNoError(err)
		t.CheckDeepEqual(0, fake.inserts)
		t.CheckDeepEqual(0, fake.updates)
		t.CheckDeepEqual("", *s.StudentDomainPrefix)
	})
}

func TestDomainParts(t *testing.T) {
	tests := []struct {
		description string
		settings    *store.SystemSetting
		code        string
		class       store.ProjectType
		prefix      string
		suffix      string
		full        string
	}{
		{
			description: "defaults",
			settings:    &store.SystemSetting{},
			code:        "A1",
			class:       store.ProjectGD,
			prefix:      "stu-",
			suffix:      "gd.hydrosim.cn",
			full:        "stu-a1.gd.hydrosim.cn",
		},
		{
			description: "prefix is lowercased and base trimmed",
			settings: &store.SystemSetting{
				StudentDomainPrefix: util.Ptr("APP-"),
				StudentDomainBase:   util.Ptr(" .example.org "),
			},
			code:   "b2",
			class:  store.ProjectCD,
			prefix: "app-",
			suffix: "cd.example.org",
			full:   "app-b2.cd.example.org",
		},
		{
			description: "empty prefix means bare host",
			settings: &store.SystemSetting{
				StudentDomainPrefix: util.Ptr(""),
			},
			code:   "A_b C",
			class:  store.ProjectGD,
			prefix: "",
			suffix: "gd.hydrosim.cn",
			full:   "a-b-c.gd.hydrosim.cn",
		},
	}
	for _, test := range tests {
		testutil.Run(t, test.description, func(t *testutil.T) {
			prefix, suffix, full := DomainParts(test.settings, test.code, test.class)

			t.CheckDeepEqual(test.prefix, prefix)
			t.CheckDeepEqual(test.suffix, suffix)
			t.CheckDeepEqual(test.full, full)
		})
	}
}

func TestNamespaceForClass(t *testing.T) {
	testutil.Run(t, "known classes", func(t *testutil.T) {
		ns, err := NamespaceForClass(store.ProjectGD)
		t.CheckNoError(err)
		t.CheckDeepEqual("students-gd", ns)

		ns, err = NamespaceForClass(store.ProjectCD)
		t.CheckNoError(err)
		t.CheckDeepEqual("students-cd", ns)
	})

	testutil.Run(t, "platform components are not student workloads", func(t *testutil.T) {
		_, err := NamespaceForClass(store.ProjectPlatform)

		t.CheckTrue(errors.IsKind(err, errors.InvalidInput))
	})

	testutil.Run(t, "reverse lookup", func(t *testutil.T) {
		class, ok := ClassForNamespace("students-cd")
		t.CheckTrue(ok)
		t.CheckDeepEqual(store.ProjectCD, class)

		_, ok = ClassForNamespace("kube-system")
		t.CheckFalse(ok)
	})
}

func TestRegistryHost(t *testing.T) {
	tests := []struct {
		url      string
		expected string
	}{
		{"https://reg.example.com/", "reg.example.com"},
		{"http://reg.example.com:5000/v2/", "reg.example.com:5000"},
		{"reg.example.com/", "reg.example.com"},
		{" reg.example.com ", "reg.example.com"},
		{"", ""},
	}
	for _, test := range tests {
		testutil.Run(t, test.url, func(t *testutil.T) {
			t.CheckDeepEqual(test.expected, RegistryHost(test.url))
		})
	}
}

func TestRenderImageRepo(t *testing.T) {
	registry := &store.Registry{URL: "https://reg.example.com/"}

	testutil.Run(t, "registry and code substituted", func(t *testutil.T) {
		repo := RenderImageRepo("{{registry}}/hydrosim/{{student_code}}", registry, "A1")

		t.CheckDeepEqual("reg.example.com/hydrosim/A1", repo)
	})

	testutil.Run(t, "scheme and slash do not change the result", func(t *testutil.T) {
		withScheme := RenderImageRepo("{{registry}}/ns/{{student_code}}", registry, "a1")
		hostOnly := RenderImageRepo("{{registry}}/ns/{{student_code}}", &store.Registry{URL: "reg.example.com"}, "a1")

		t.CheckDeepEqual(withScheme, hostOnly)
	})

	testutil.Run(t, "registry placeholder without a registry", func(t *testutil.T) {
		t.CheckDeepEqual("", RenderImageRepo("{{registry}}/ns/app", nil, "a1"))
	})

	testutil.Run(t, "literal template needs no registry", func(t *testutil.T) {
		t.CheckDeepEqual("reg.local/apps/a1", RenderImageRepo("reg.local/apps/{{student_code}}", nil, "a1"))
	})

	testutil.Run(t, "empty template", func(t *testutil.T) {
		t.CheckDeepEqual("", RenderImageRepo("", registry, "a1"))
	})
}
