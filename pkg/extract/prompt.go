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

package extract

import (
	"fmt"
	"strings"

	"github.com/hiresignal/leadgen-engine/pkg/model"
)

const systemDirective = `You extract structured hiring data from social media posts. ` +
	`Respond with a single strict JSON object and nothing else: no prose, no markdown fences. ` +
	`Use empty strings and empty arrays for fields the post does not state. Never invent values.`

// schemaContract enumerates the output fields. Key names match the lead
// document's JSON encoding so the response unmarshals directly.
const schemaContract = `{
  "company": "string, hiring company name",
  "companyUrl": "string, company page URL if stated",
  "companyIndustry": "string, industry if stated",
  "jobTitles": ["string, each role being hired for"],
  "locations": ["string, each mentioned location"],
  "seniority": "string, e.g. junior/mid/senior/staff/director",
  "skills": ["string, required skills or technologies"],
  "salaryRange": "string, as written in the post",
  "workMode": "string, one of remote/hybrid/onsite or empty",
  "applicationLink": "string, URL or email to apply"
}`

// userPrompt renders the raw capture together with the schema contract.
func userPrompt(raw model.RawPost) string {
	var b strings.Builder
	b.WriteString("Extract the hiring details from this post.\n\n")
	if raw.AuthorName != "" {
		fmt.Fprintf(&b, "Author: %s\n", raw.AuthorName)
	}
	if raw.AuthorHeadline != "" {
		fmt.Fprintf(&b, "Author headline: %s\n", raw.AuthorHeadline)
	}
	if raw.PostTitle != "" {
		fmt.Fprintf(&b, "Post title: %s\n", raw.PostTitle)
	}
	fmt.Fprintf(&b, "Post URL: %s\n\nPost text:\n%s\n\n", raw.PostURL, raw.PostText)
	fmt.Fprintf(&b, "Return a JSON object with exactly this shape:\n%s\n", schemaContract)
	return b.String()
}
