// Copyright 2025 HireSignal LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fetch

import "strings"

type outcome int

const (
	outcomeOK outcome = iota
	outcomeRateLimited
	outcomeUnauthenticated
)

// URL markers indicating the request was gated by the provider.
var rateLimitURLMarkers = []string{"/checkpoint", "/authwall"}

// URL path prefixes indicating the session is no longer authenticated.
var loginPathPrefixes = []string{"/login", "/uas/login", "/authwall", "/checkpoint"}

// Body-text markers of provider pushback, matched case-insensitively.
var rateLimitTextMarkers = []string{
	"try again later",
	"unusual activity",
	"too many requests",
	"verify your identity",
	"security verification",
}

// classify inspects the resolved URL and rendered body text before any
// records are extracted. Checkpoint/authwall markers take precedence over the
// plain login paths: a gated request is pushback, not merely a lost session.
func classify(resolvedURL, bodyText string) outcome {
	lower := strings.ToLower(resolvedURL)
	for _, m := range rateLimitURLMarkers {
		if strings.Contains(lower, m) {
			return outcomeRateLimited
		}
	}
	for _, p := range loginPathPrefixes {
		if pathHasPrefix(lower, p) {
			return outcomeUnauthenticated
		}
	}
	text := strings.ToLower(bodyText)
	for _, m := range rateLimitTextMarkers {
		if strings.Contains(text, m) {
			return outcomeRateLimited
		}
	}
	return outcomeOK
}

// pathHasPrefix reports whether the URL's path component begins with prefix.
func pathHasPrefix(lowerURL, prefix string) bool {
	idx := strings.Index(lowerURL, "://")
	if idx >= 0 {
		lowerURL = lowerURL[idx+3:]
	}
	slash := strings.Index(lowerURL, "/")
	if slash < 0 {
		return false
	}
	return strings.HasPrefix(lowerURL[slash:], prefix)
}
