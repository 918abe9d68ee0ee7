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
	"math/rand"
	"strings"
	"time"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/hiresignal/leadgen-engine/pkg/browser"
	"github.com/hiresignal/leadgen-engine/pkg/model"
)

// EmitFunc consumes one raw record. counted reports whether the record goes
// against the harvest cap (the orchestrator's keyword filter drops records
// without consuming cap). Returning ErrStopHarvest ends the harvest cleanly;
// any other error aborts it.
type EmitFunc func(raw model.RawPost) (counted bool, err error)

// Harvest navigates to pageURL and runs the scroll-and-harvest loop until the
// cap is reached, the retry budgets are exhausted (ErrExhausted), provider
// pushback is detected (ErrRateLimited), or the session is lost
// (ErrUnauthenticated). It returns the number of counted records.
func (s *Session) Harvest(ctx context.Context, pageURL string, max int, emit EmitFunc) (int, error) {
	if max <= 0 {
		return 0, nil
	}
	if err := s.Navigate(ctx, pageURL); err != nil {
		return 0, err
	}

	var (
		seen      = map[string]struct{}{}
		collected = 0
		processed = 0
		quick     = 0
		longWaits = 0
	)
	for {
		if err := ctx.Err(); err != nil {
			return collected, err
		}

		cards, err := s.cards(ctx)
		if err != nil {
			s.engine.governor.RecordError(s.host)
			return collected, errors.Wrap(err, "querying cards")
		}

		newCards := 0
		for _, card := range cards {
			id, ok := s.engine.cardProviderID(ctx, card)
			if !ok {
				cardsSkipped.Inc()
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			newCards++

			// Human pacing: a long pause between consecutive cards and a
			// short settle after bringing the card into view.
			if processed > 0 {
				if err := s.engine.sleepRange(ctx, s.engine.opts.CardDelayMin, s.engine.opts.CardDelayMax); err != nil {
					return collected, err
				}
			}
			if err := card.ScrollIntoView(ctx); err != nil {
				level.Debug(s.engine.logger).Log("msg", "scroll into view failed", "err", err)
			}
			if err := s.engine.sleepRange(ctx, s.engine.opts.SettleMin, s.engine.opts.SettleMax); err != nil {
				return collected, err
			}
			processed++

			raw := s.engine.capture(ctx, card, id)
			cardsHarvested.Inc()

			counted, err := emit(raw)
			if err != nil {
				if errors.Is(err, ErrStopHarvest) {
					return collected, nil
				}
				return collected, err
			}
			if counted {
				collected++
				if collected >= max {
					return collected, nil
				}
			}
		}

		// Re-check for pushback surfaced by lazy loading before scrolling
		// further.
		body, err := s.page.InnerText(ctx)
		if err != nil {
			s.engine.governor.RecordError(s.host)
			return collected, errors.Wrap(err, "reading page text")
		}
		switch classify(s.page.URL(), body) {
		case outcomeRateLimited:
			s.engine.governor.RecordRateLimit(s.host)
			return collected, ErrRateLimited
		case outcomeUnauthenticated:
			return collected, ErrUnauthenticated
		}

		if newCards > 0 {
			quick, longWaits = 0, 0
			if err := s.quickScroll(ctx); err != nil {
				return collected, err
			}
			continue
		}
		quick++
		if quick <= s.engine.opts.QuickRetries {
			if err := s.quickScroll(ctx); err != nil {
				return collected, err
			}
			continue
		}
		longWaits++
		if longWaits > s.engine.opts.LongWaitRetries {
			return collected, ErrExhausted
		}
		level.Debug(s.engine.logger).Log("msg", "no new cards, long wait", "attempt", longWaits)
		if err := s.engine.opts.Sleeper.Sleep(ctx, s.engine.opts.LongWait); err != nil {
			return collected, err
		}
		quick = 0
	}
}

// cards returns the current card elements, trying the ranked selectors.
func (s *Session) cards(ctx context.Context) ([]browser.Element, error) {
	for _, sel := range CardSelectors {
		els, err := s.page.QuerySelectorAll(ctx, sel)
		if err != nil {
			return nil, err
		}
		if len(els) > 0 {
			return els, nil
		}
	}
	return nil, nil
}

// quickScroll emulates a short human scroll: 2-4 downward wheel events of
// 200-600px spaced 800-1500ms apart.
func (s *Session) quickScroll(ctx context.Context) error {
	steps := 2 + rand.Intn(3)
	for i := 0; i < steps; i++ {
		if i > 0 {
			if err := s.engine.sleepRange(ctx, 800*time.Millisecond, 1500*time.Millisecond); err != nil {
				return err
			}
		}
		if err := s.page.Wheel(ctx, 0, float64(200+rand.Intn(401))); err != nil {
			return errors.Wrap(err, "wheel scroll")
		}
	}
	return nil
}

// FetchPost captures a single activity page (no scrolling). The activity ID
// falls back to the URL itself when the DOM carries none.
func (s *Session) FetchPost(ctx context.Context, postURL string) (model.RawPost, error) {
	if err := s.Navigate(ctx, postURL); err != nil {
		return model.RawPost{}, err
	}
	cards, err := s.cards(ctx)
	if err != nil {
		s.engine.governor.RecordError(s.host)
		return model.RawPost{}, errors.Wrap(err, "querying post element")
	}
	if len(cards) > 0 {
		if id, ok := s.engine.cardProviderID(ctx, cards[0]); ok {
			cardsHarvested.Inc()
			return s.engine.capture(ctx, cards[0], id), nil
		}
	}
	id := providerIDFromHref(s.page.URL())
	if id == "" {
		id = providerIDFromHref(postURL)
	}
	if id == "" {
		cardsSkipped.Inc()
		return model.RawPost{}, errors.Errorf("no activity id resolvable for %s", postURL)
	}
	raw := model.RawPost{ProviderID: id, PostURL: CanonicalPostURL(id)}
	if len(cards) > 0 {
		raw = s.engine.capture(ctx, cards[0], id)
	} else if text, err := s.page.InnerText(ctx); err == nil {
		raw.PostText = strings.TrimSpace(text)
	}
	cardsHarvested.Inc()
	return raw, nil
}

// RewriteProfileURL turns a profile URL into its activity feed. URLs already
// pointing at a recent-activity page pass through unchanged.
func RewriteProfileURL(profileURL string) string {
	if strings.Contains(profileURL, "/recent-activity/") {
		return profileURL
	}
	return strings.TrimRight(profileURL, "/") + "/recent-activity/all/"
}
