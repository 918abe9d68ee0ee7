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

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/hiresignal/leadgen-engine/pkg/browser"
	"github.com/hiresignal/leadgen-engine/pkg/model"
)

// Ranked selectors for list-page cards and their inner fields. Most reliable
// first; the provider reshuffles class names periodically so every field
// carries fallbacks. Exported so test fixtures can build conforming DOM.
var (
	CardSelectors = []string{
		"div.feed-shared-update-v2",
		"li.search-results__search-feed-update",
		"[data-urn]",
	}

	SelectorDescendantURN = "[data-urn]"

	SelectorsTimestampLink = []string{
		"a.update-components-actor__sub-description-link",
		"a.feed-shared-actor__sub-description-link",
	}
	SelectorsViewPostLink = []string{
		"a.update-components-mini-update-v2__link-to-update",
		"a.feed-shared-update-v2__view-post-link",
	}
	SelectorAnchor = "a"

	SelectorsActorLink = []string{
		"a.update-components-actor__meta-link",
		"a.feed-shared-actor__container-link",
		"a.app-aware-link.update-components-actor__container-link",
	}
	SelectorsActorName = []string{
		"span.update-components-actor__title",
		"span.feed-shared-actor__name",
	}
	SelectorsActorHeadline = []string{
		"span.update-components-actor__description",
		"span.feed-shared-actor__description",
	}
	SelectorsPostText = []string{
		"div.update-components-text span.break-words",
		"div.feed-shared-update-v2__description",
		"div.update-components-text",
	}
	SelectorsPostTitle = []string{
		"div.update-components-article__title",
		"h2.feed-shared-article__title",
	}
	SelectorsTime = []string{"time"}
)

var (
	reActivityURN   = regexp.MustCompile(`urn:li:activity:(\d+)`)
	rePostsPath     = regexp.MustCompile(`/posts/[^/]*?(\d{6,})`)
	reActivityLoose = regexp.MustCompile(`activity[:-](\d+)`)
)

// CanonicalPostURL builds the deterministic post URL for an activity ID. It
// is never the author's profile URL.
func CanonicalPostURL(providerID string) string {
	return fmt.Sprintf("https://www.linkedin.com/feed/update/urn:li:activity:%s/", providerID)
}

// providerIDFromHref extracts an activity ID from a link target, trying the
// URN form, the posts path form and the loose activity marker in that order.
func providerIDFromHref(href string) string {
	for _, re := range []*regexp.Regexp{reActivityURN, rePostsPath, reActivityLoose} {
		if m := re.FindStringSubmatch(href); m != nil {
			return m[1]
		}
	}
	return ""
}

// cardProviderID resolves the activity ID of a card through the fallback
// chain, most reliable source first. ok is false when the card carries no
// resolvable ID and must be skipped.
func (e *Engine) cardProviderID(ctx context.Context, card browser.Element) (string, bool) {
	// 1. The card's own data-urn attribute.
	if urn, err := card.GetAttribute(ctx, "data-urn"); err == nil {
		if m := reActivityURN.FindStringSubmatch(urn); m != nil {
			return m[1], true
		}
	}
	// 2. Any descendant carrying a matching data-urn.
	if els, err := card.QuerySelectorAll(ctx, SelectorDescendantURN); err == nil {
		for _, el := range els {
			if urn, err := el.GetAttribute(ctx, "data-urn"); err == nil {
				if m := reActivityURN.FindStringSubmatch(urn); m != nil {
					return m[1], true
				}
			}
		}
	}
	// 3. Timestamp-style links.
	if id := e.idFromLinks(ctx, card, SelectorsTimestampLink); id != "" {
		return id, true
	}
	// 4. "View post" links.
	if id := e.idFromLinks(ctx, card, SelectorsViewPostLink); id != "" {
		return id, true
	}
	// 5. Any descendant anchor with an activity marker in its target.
	if els, err := card.QuerySelectorAll(ctx, SelectorAnchor); err == nil {
		for _, el := range els {
			if href, err := el.GetAttribute(ctx, "href"); err == nil {
				if m := reActivityLoose.FindStringSubmatch(href); m != nil {
					return m[1], true
				}
			}
		}
	}
	return "", false
}

func (e *Engine) idFromLinks(ctx context.Context, card browser.Element, selectors []string) string {
	for _, sel := range selectors {
		els, err := card.QuerySelectorAll(ctx, sel)
		if err != nil {
			continue
		}
		for _, el := range els {
			href, err := el.GetAttribute(ctx, "href")
			if err != nil {
				continue
			}
			if id := providerIDFromHref(href); id != "" {
				return id
			}
		}
	}
	return ""
}

// capture reads the remaining card fields. Missing fields come out as empty
// strings; only the provider ID (resolved by the caller) disqualifies a card.
func (e *Engine) capture(ctx context.Context, card browser.Element, providerID string) model.RawPost {
	raw := model.RawPost{
		ProviderID:       providerID,
		PostURL:          CanonicalPostURL(providerID),
		AuthorName:       e.firstText(ctx, card, SelectorsActorName),
		AuthorHeadline:   e.firstText(ctx, card, SelectorsActorHeadline),
		AuthorProfileURL: e.firstHref(ctx, card, SelectorsActorLink),
		PostTitle:        e.firstText(ctx, card, SelectorsPostTitle),
		PostText:         e.firstText(ctx, card, SelectorsPostText),
		CompanyURL:       e.companyURL(ctx, card),
		PostedAt:         e.timestamp(ctx, card),
	}
	return raw
}

// firstText returns the first non-empty trimmed innerText among the ranked
// selectors.
func (e *Engine) firstText(ctx context.Context, card browser.Element, selectors []string) string {
	for _, sel := range selectors {
		els, err := card.QuerySelectorAll(ctx, sel)
		if err != nil {
			continue
		}
		for _, el := range els {
			if text, err := el.InnerText(ctx); err == nil {
				if t := strings.TrimSpace(text); t != "" {
					return t
				}
			}
		}
	}
	return ""
}

func (e *Engine) firstHref(ctx context.Context, card browser.Element, selectors []string) string {
	for _, sel := range selectors {
		els, err := card.QuerySelectorAll(ctx, sel)
		if err != nil {
			continue
		}
		for _, el := range els {
			if href, err := el.GetAttribute(ctx, "href"); err == nil && href != "" {
				return absoluteURL(href)
			}
		}
	}
	return ""
}

// companyURL returns the first absolute company-page link on the card.
func (e *Engine) companyURL(ctx context.Context, card browser.Element) string {
	els, err := card.QuerySelectorAll(ctx, SelectorAnchor)
	if err != nil {
		return ""
	}
	for _, el := range els {
		href, err := el.GetAttribute(ctx, "href")
		if err != nil || !strings.Contains(href, "/company/") {
			continue
		}
		return absoluteURL(href)
	}
	return ""
}

func absoluteURL(href string) string {
	if strings.HasPrefix(href, "/") {
		return "https://www.linkedin.com" + href
	}
	return href
}

// timestamp reads the provider-reported post time from a time-like element.
// Non-parseable values come out as nil, not zero.
func (e *Engine) timestamp(ctx context.Context, card browser.Element) *time.Time {
	for _, sel := range SelectorsTime {
		els, err := card.QuerySelectorAll(ctx, sel)
		if err != nil {
			continue
		}
		for _, el := range els {
			if dt, err := el.GetAttribute(ctx, "datetime"); err == nil && dt != "" {
				if t, ok := parseTime(dt); ok {
					return &t
				}
			}
			if text, err := el.InnerText(ctx); err == nil {
				if t, ok := parseTime(strings.TrimSpace(text)); ok {
					return &t
				}
			}
		}
	}
	return nil
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
