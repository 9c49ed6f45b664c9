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

// Package kaniko renders the in-cluster build job: the Job manifest,
// the git clone script and the URL plumbing they share.
package kaniko

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// IsSSH reports whether cloning the URL needs an SSH deploy key.
func IsSSH(gitURL string) bool {
	return strings.HasPrefix(gitURL, "git@") || strings.HasPrefix(gitURL, "ssh://")
}

// ExtractHost returns the host of a git URL in any of the accepted
// shapes: scp-like, ssh:// and http(s)://.
func ExtractHost(gitURL string) string {
	if strings.HasPrefix(gitURL, "git@") {
		rest := strings.SplitN(gitURL, "@", 2)[1]
		return strings.SplitN(rest, ":", 2)[0]
	}
	if strings.Contains(gitURL, "://") {
		if parsed, err := url.Parse(gitURL); err == nil {
			if host := parsed.Hostname(); host != "" {
				return host
			}
			return parsed.Host
		}
	}
	return ""
}

// ExtractHostAndPort additionally resolves the explicit port of ssh://
// URLs. A zero port means "unspecified".
func ExtractHostAndPort(gitURL string) (string, int) {
	if strings.HasPrefix(gitURL, "ssh://") {
		parsed, err := url.Parse(gitURL)
		if err != nil {
			return "", 0
		}
		port := 0
		if p := parsed.Port(); p != "" {
			port, _ = strconv.Atoi(p)
		}
		return parsed.Hostname(), port
	}
	return ExtractHost(gitURL), 0
}

// RewriteHost swaps the public git host for the cluster-internal one so
// the clone runs against the in-cluster service. URLs pointing at any
// other host pass through unchanged, as do non-SSH URLs.
func RewriteHost(gitURL, internalHost string, internalPort int, externalHost string) string {
	if gitURL == "" || internalHost == "" || externalHost == "" {
		return gitURL
	}
	if strings.HasPrefix(gitURL, "git@") {
		rest := strings.SplitN(gitURL, "@", 2)[1]
		host, path := rest, ""
		if i := strings.Index(rest, ":"); i >= 0 {
			host, path = rest[:i], rest[i+1:]
		}
		if host == externalHost && path != "" {
			port := internalPort
			if port == 0 {
				port = 22
			}
			return fmt.Sprintf("ssh://git@%s:%d/%s", internalHost, port, path)
		}
		return gitURL
	}
	if strings.HasPrefix(gitURL, "ssh://") {
		parsed, err := url.Parse(gitURL)
		if err != nil || parsed.Hostname() != externalHost {
			return gitURL
		}
		user := "git"
		if parsed.User != nil && parsed.User.Username() != "" {
			user = parsed.User.Username()
		}
		port := internalPort
		if port == 0 {
			if p := parsed.Port(); p != "" {
				port, _ = strconv.Atoi(p)
			}
		}
		if port == 0 {
			port = 22
		}
		return fmt.Sprintf("ssh://%s@%s:%d/%s", user, internalHost, port, strings.TrimLeft(parsed.Path, "/"))
	}
	return gitURL
}
