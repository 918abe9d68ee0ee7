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

package campaign

import "strings"

// hiringKeywords gate noisy feed pages. Search result pages skip the filter
// because the query already targets hiring intent.
var hiringKeywords = []string{
	"hiring",
	"recruiting",
	"join",
	"looking for",
	"opportunity",
	"position",
	"role",
	"opening",
}

// MatchesHiringKeywords reports whether text mentions hiring intent.
func MatchesHiringKeywords(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range hiringKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
