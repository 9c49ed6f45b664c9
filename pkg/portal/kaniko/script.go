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

package kaniko

import (
	"fmt"
	"strings"
)

// CloneScript renders the shell script the git-clone init container
// runs. SSH URLs stage the mounted deploy key and disable host key
// checking. An explicit commit wins over the branch fallback chain:
// local branch, then remote branch, else stay on the clone default.
func CloneScript(gitURL, commitSHA, branch, repoDir, gitHost string, gitPort int) string {
	useSSH := IsSSH(gitURL)
	if useSSH && gitHost == "" {
		gitHost, gitPort = ExtractHostAndPort(gitURL)
	}
	if repoDir == "" {
		repoDir = DefaultRepoDir
	}

	lines := []string{"set -e"}
	if useSSH && gitHost != "" {
		sshCommand := "ssh -i /root/.ssh/id_rsa -o StrictHostKeyChecking=no"
		if gitPort != 0 {
			sshCommand += fmt.Sprintf(" -p %d", gitPort)
		}
		lines = append(lines,
			"mkdir -p /root/.ssh",
			"cp /etc/ssh-key/id_rsa /root/.ssh/id_rsa",
			"chmod 600 /root/.ssh/id_rsa",
			fmt.Sprintf(`export GIT_SSH_COMMAND="%s"`, sshCommand),
		)
	}

	lines = append(lines,
		"rm -rf /workspace/*",
		fmt.Sprintf("git clone %s %s", gitURL, repoDir),
		"cd "+repoDir,
	)

	switch {
	case commitSHA != "" && commitSHA != "latest":
		ref := strings.ReplaceAll(commitSHA, `"`, `\"`)
		lines = append(lines, fmt.Sprintf(`git checkout "%s"`, ref))
	case branch != "":
		name := strings.ReplaceAll(branch, `"`, `\"`)
		lines = append(lines,
			fmt.Sprintf(`if git show-ref --verify --quiet "refs/heads/%s"; then`, name),
			fmt.Sprintf(`  git checkout "%s"`, name),
			fmt.Sprintf(`elif git show-ref --verify --quiet "refs/remotes/origin/%s"; then`, name),
			fmt.Sprintf(`  git checkout -b "%s" "origin/%s"`, name, name),
			"else",
			fmt.Sprintf(`  echo "Branch %s not found, using default"`, name),
			"fi",
		)
	}

	return strings.Join(lines, "\n")
}
