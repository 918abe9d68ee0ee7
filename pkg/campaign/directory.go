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
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hiresignal/leadgen-engine/pkg/fetch"
	"github.com/hiresignal/leadgen-engine/pkg/model"
	"github.com/hiresignal/leadgen-engine/pkg/pacing"
	"github.com/hiresignal/leadgen-engine/pkg/store"
)

// directoryCard is one company hit on a directory search page.
type directoryCard struct {
	name string
	url  string
}

// runDirectory paginates the company search, visiting each hit's about page
// for detailed fields. Pagination ends on an empty result page or the cap.
func (r *run) runDirectory(ctx context.Context) error {
	base := BuildCompanySearchURL(r.c.Query)

	page := 1
	if cp := r.c.Checkpoint; cp != nil && cp.LastPage > 0 {
		page = cp.LastPage + 1
	}
	for r.collected < r.limit {
		if err := ctx.Err(); err != nil {
			return err
		}
		pageURL := withPageParam(base, r.o.opts.PageParam, page)
		html, err := r.sess.PageHTML(ctx, pageURL)
		if err != nil {
			return err
		}
		cards, err := parseDirectoryPage(html)
		if err != nil {
			return err
		}
		if len(cards) == 0 {
			return nil
		}

		for _, card := range cards {
			if r.collected >= r.limit {
				break
			}
			if err := r.harvestCompany(ctx, card); err != nil {
				return err
			}
		}

		r.c.Checkpoint = &model.Checkpoint{LastPage: page, TotalCollected: r.collected}
		if uerr := r.o.update(context.WithoutCancel(ctx), r.c); uerr != nil {
			level.Warn(r.logger()).Log("msg", "persisting checkpoint", "err", uerr)
		}
		page++
	}
	return nil
}

// harvestCompany fills a company record from its about page and persists it.
// A failed about fetch is transient: counted and skipped.
func (r *run) harvestCompany(ctx context.Context, card directoryCard) error {
	company := model.Company{
		ID:          uuid.NewString(),
		TenantID:    r.c.TenantID,
		CampaignID:  r.c.ID,
		LinkedInURL: card.url,
		Name:        card.name,
		CreatedAt:   r.o.now().UTC(),
	}

	aboutHTML, err := r.sess.PageHTML(ctx, companyAboutURL(card.url))
	if err != nil {
		if isTerminalFetchErr(err) {
			return err
		}
		r.c.Stats.Errors++
		level.Warn(r.logger()).Log("msg", "company about page failed", "company", card.url, "err", err)
		return nil
	}
	if err := parseCompanyAbout(aboutHTML, &company); err != nil {
		level.Debug(r.logger()).Log("msg", "company about parse incomplete", "company", card.url, "err", err)
	}

	switch err := r.o.store.InsertCompany(ctx, &company); {
	case err == nil:
		companiesPersisted.Inc()
		r.collected++
		r.c.Stats.LeadsExtracted++
		r.c.Progress = progress(r.c.Stats.LeadsExtracted, r.limit)
	case errors.Is(err, store.ErrDuplicate):
		r.c.Stats.Duplicates++
	default:
		r.c.Stats.Errors++
		level.Warn(r.logger()).Log("msg", "persisting company", "company", card.url, "err", err)
	}
	r.c.Stats.PostsProcessed++
	return nil
}

// Ranked selectors for company hits on a directory search page.
var directoryCardSelectors = []string{
	"li.reusable-search__result-container",
	"div.entity-result",
}

func parseDirectoryPage(html string) ([]directoryCard, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, errors.Wrap(err, "parsing directory page")
	}
	var cards []directoryCard
	for _, sel := range directoryCardSelectors {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			var card directoryCard
			s.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
				href, _ := a.Attr("href")
				if !strings.Contains(href, "/company/") {
					return true
				}
				card.url = normalizeCompanyURL(href)
				if t := strings.TrimSpace(a.Text()); t != "" {
					card.name = t
				}
				return false
			})
			if card.url != "" {
				cards = append(cards, card)
			}
		})
		if len(cards) > 0 {
			break
		}
	}
	return cards, nil
}

// parseCompanyAbout reads the labeled definition pairs of an about page.
func parseCompanyAbout(html string, c *model.Company) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return errors.Wrap(err, "parsing about page")
	}
	if c.Name == "" {
		c.Name = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	c.Tagline = strings.TrimSpace(doc.Find("p.org-top-card-summary__tagline").First().Text())
	c.Logo, _ = doc.Find("img.org-top-card-primary-content__logo").First().Attr("src")
	c.FollowerCount = strings.TrimSpace(doc.Find("div.org-top-card-summary-info-list__info-item--followers").First().Text())

	doc.Find("dt").Each(func(_ int, dt *goquery.Selection) {
		label := strings.ToLower(strings.TrimSpace(dt.Text()))
		value := strings.TrimSpace(dt.NextFiltered("dd").Text())
		if value == "" {
			return
		}
		switch {
		case strings.Contains(label, "website"):
			c.Website = value
		case strings.Contains(label, "industry"):
			c.Industry = value
		case strings.Contains(label, "company size"):
			c.CompanySize = value
		case strings.Contains(label, "headquarters"):
			c.Headquarters = value
		case strings.Contains(label, "founded"):
			c.Founded = value
		case strings.Contains(label, "specialties"):
			c.Specialties = splitSpecialties(value)
		}
	})
	return nil
}

func splitSpecialties(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' })
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(p), "and "))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// companyAboutURL appends the about path to a company page URL.
func companyAboutURL(companyURL string) string {
	if strings.Contains(companyURL, "/about") {
		return companyURL
	}
	return strings.TrimRight(companyURL, "/") + "/about/"
}

// isTerminalFetchErr reports whether a fetch failure must end the whole
// campaign rather than the current company.
func isTerminalFetchErr(err error) bool {
	var blocked *pacing.BlockedError
	return errors.Is(err, fetch.ErrRateLimited) ||
		errors.Is(err, fetch.ErrUnauthenticated) ||
		errors.Is(err, context.Canceled) ||
		errors.As(err, &blocked)
}

// normalizeCompanyURL absolutizes and strips tracking query parameters.
func normalizeCompanyURL(href string) string {
	if strings.HasPrefix(href, "/") {
		href = "https://www.linkedin.com" + href
	}
	if i := strings.IndexByte(href, '?'); i >= 0 {
		href = href[:i]
	}
	return href
}
