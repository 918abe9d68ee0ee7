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

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/hiresignal/leadgen-engine/pkg/model"
)

const (
	contentSearchBase = "https://www.linkedin.com/search/results/content/"
	companySearchBase = "https://www.linkedin.com/search/results/companies/"
)

// Human-readable period labels mapped to the provider's datePosted facet.
var periodFacets = map[string]string{
	"past 24 hours": "past-24h",
	"past day":      "past-24h",
	"past week":     "past-week",
	"past month":    "past-month",
}

var sortFacets = map[string]string{
	"latest":    "date_posted",
	"recent":    "date_posted",
	"relevance": "relevance",
}

// BuildSearchURL renders the content-search URL for a search-posts campaign.
// Facets the query leaves empty are omitted.
func BuildSearchURL(q model.Query) string {
	v := url.Values{}
	keywords := q.Roles
	if q.KeywordScope != "" {
		keywords = strings.TrimSpace(keywords + " " + q.KeywordScope)
	}
	if keywords != "" {
		v.Set("keywords", keywords)
	}
	if f, ok := periodFacets[strings.ToLower(q.Period)]; ok {
		v.Set("datePosted", quoted(f))
	}
	if f, ok := sortFacets[strings.ToLower(q.Sort)]; ok {
		v.Set("sortBy", quoted(f))
	}
	if q.Location != "" {
		v.Set("geoUrn", quoted(q.Location))
	}
	if q.ContentType != "" {
		v.Set("contentType", quoted(q.ContentType))
	}
	if q.Language != "" {
		v.Set("contentLanguage", listFacet([]string{q.Language}))
	}
	if q.ConnectionDegree != "" {
		v.Set("network", listFacet([]string{q.ConnectionDegree}))
	}
	if len(q.Industries) > 0 {
		v.Set("industryCompanyVertical", listFacet(q.Industries))
	}
	if len(q.CompanySizes) > 0 {
		v.Set("companySize", listFacet(q.CompanySizes))
	}
	v.Set("origin", "FACETED_SEARCH")
	return contentSearchBase + "?" + v.Encode()
}

// BuildCompanySearchURL renders the company-search URL for directory mode.
func BuildCompanySearchURL(q model.Query) string {
	v := url.Values{}
	if q.Roles != "" {
		v.Set("keywords", q.Roles)
	}
	if len(q.Industries) > 0 {
		v.Set("industryCompanyVertical", listFacet(q.Industries))
	}
	if len(q.CompanySizes) > 0 {
		v.Set("companySize", listFacet(q.CompanySizes))
	}
	v.Set("origin", "FACETED_SEARCH")
	return companySearchBase + "?" + v.Encode()
}

// withPageParam sets or replaces the pagination parameter on a URL. The
// provider's parameter name changes; it is configuration, not a constant.
func withPageParam(rawURL, param string, page int) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	v := u.Query()
	v.Set(param, fmt.Sprintf("%d", page))
	u.RawQuery = v.Encode()
	return u.String()
}

// The provider wraps single facet values in quotes and lists in brackets.
func quoted(s string) string { return `"` + s + `"` }

func listFacet(items []string) string {
	qs := make([]string, 0, len(items))
	for _, it := range items {
		qs = append(qs, quoted(it))
	}
	return "[" + strings.Join(qs, ",") + "]"
}
