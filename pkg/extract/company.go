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
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/hiresignal/leadgen-engine/pkg/model"
)

// PageFetcher returns the rendered HTML of a URL through an authenticated,
// pacing-governed session.
type PageFetcher func(ctx context.Context, url string) (string, error)

// Ranked industry-bearing elements on a company page. The provider's markup
// varies between the logged-in org page and the public about page.
var industrySelectors = []string{
	"dd.org-page-details__definition-text",
	"div.org-top-card-summary-info-list__info-item",
	"div[data-test-id='about-us__industry'] dd",
	"dd.top-card-layout__headline",
}

// EnrichIndustry visits the lead's company page and fills in
// fields.CompanyIndustry. Failures are logged and swallowed: industry is a
// best-effort embellishment and never degrades an enriched lead.
func (e *Extractor) EnrichIndustry(ctx context.Context, fetch PageFetcher, fields *model.LeadFields) {
	if fields.CompanyURL == "" || fields.CompanyIndustry != "" {
		return
	}
	html, err := fetch(ctx, companyAboutURL(fields.CompanyURL))
	if err != nil {
		level.Debug(e.logger).Log("msg", "company page fetch failed", "url", fields.CompanyURL, "err", err)
		return
	}
	industry, err := industryFromHTML(html)
	if err != nil {
		level.Debug(e.logger).Log("msg", "company industry parse failed", "url", fields.CompanyURL, "err", err)
		return
	}
	fields.CompanyIndustry = industry
}

// companyAboutURL appends the about path to a company page URL.
func companyAboutURL(companyURL string) string {
	if strings.Contains(companyURL, "/about") {
		return companyURL
	}
	return strings.TrimRight(companyURL, "/") + "/about/"
}

// industryFromHTML returns the first non-empty industry-bearing text.
func industryFromHTML(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", errors.Wrap(err, "parsing company page")
	}
	for _, sel := range industrySelectors {
		var found string
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if t := strings.TrimSpace(s.Text()); t != "" {
				found = t
				return false
			}
			return true
		})
		if found != "" {
			return found, nil
		}
	}
	return "", errors.New("no industry element found")
}
