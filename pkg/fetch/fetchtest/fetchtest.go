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

// Package fetchtest builds scripted DOM fixtures that conform to the fetch
// engine's selector contract, plus a recording sleeper for asserting the
// human-pacing delays without waiting them out.
package fetchtest

import (
	"context"
	"sync"
	"time"

	"github.com/hiresignal/leadgen-engine/pkg/browser/browsertest"
	"github.com/hiresignal/leadgen-engine/pkg/fetch"
)

// CardOpts describe one scripted post card.
type CardOpts struct {
	// ProviderID is placed as a data-urn attribute on the card itself.
	ProviderID string
	// DescendantURN places the urn on a child element instead, exercising
	// the second step of the ID fallback chain.
	DescendantURN bool
	// TimestampHref, when set, is served on a timestamp-style link instead
	// of any data-urn attribute (third step of the chain).
	TimestampHref string

	AuthorName       string
	AuthorHeadline   string
	AuthorProfileURL string
	PostTitle        string
	PostText         string
	CompanyURL       string
	// PostedAt is served as the datetime attribute of a time element.
	PostedAt string
}

// Card builds a scripted element matching the engine's selectors.
func Card(o CardOpts) *browsertest.Element {
	card := &browsertest.Element{
		Attrs:      map[string]string{},
		BySelector: map[string][]*browsertest.Element{},
	}
	switch {
	case o.TimestampHref != "":
		card.BySelector[fetch.SelectorsTimestampLink[0]] = []*browsertest.Element{
			{Attrs: map[string]string{"href": o.TimestampHref}},
		}
	case o.DescendantURN:
		card.BySelector[fetch.SelectorDescendantURN] = []*browsertest.Element{
			{Attrs: map[string]string{"data-urn": "urn:li:activity:" + o.ProviderID}},
		}
	case o.ProviderID != "":
		card.Attrs["data-urn"] = "urn:li:activity:" + o.ProviderID
	}
	if o.AuthorName != "" {
		card.BySelector[fetch.SelectorsActorName[0]] = []*browsertest.Element{{Text: o.AuthorName}}
	}
	if o.AuthorHeadline != "" {
		card.BySelector[fetch.SelectorsActorHeadline[0]] = []*browsertest.Element{{Text: o.AuthorHeadline}}
	}
	if o.AuthorProfileURL != "" {
		card.BySelector[fetch.SelectorsActorLink[0]] = []*browsertest.Element{
			{Attrs: map[string]string{"href": o.AuthorProfileURL}},
		}
	}
	if o.PostTitle != "" {
		card.BySelector[fetch.SelectorsPostTitle[0]] = []*browsertest.Element{{Text: o.PostTitle}}
	}
	if o.PostText != "" {
		card.BySelector[fetch.SelectorsPostText[0]] = []*browsertest.Element{{Text: o.PostText}}
	}
	if o.CompanyURL != "" {
		card.BySelector[fetch.SelectorAnchor] = append(card.BySelector[fetch.SelectorAnchor],
			&browsertest.Element{Attrs: map[string]string{"href": o.CompanyURL}})
	}
	if o.PostedAt != "" {
		card.BySelector[fetch.SelectorsTime[0]] = []*browsertest.Element{
			{Attrs: map[string]string{"datetime": o.PostedAt}},
		}
	}
	return card
}

// SimpleCard builds a card with an ID, a text and default author fields.
func SimpleCard(providerID, postText string) *browsertest.Element {
	return Card(CardOpts{
		ProviderID:       providerID,
		AuthorName:       "Jordan Sample",
		AuthorHeadline:   "Engineering Manager",
		AuthorProfileURL: "/in/jordan-sample",
		PostText:         postText,
	})
}

// FeedPage scripts a list page whose cards are all visible after load.
func FeedPage(cards ...*browsertest.Element) *browsertest.PageScript {
	return &browsertest.PageScript{Batches: [][]*browsertest.Element{cards}}
}

// RecordingSleeper satisfies fetch.Sleeper without sleeping and records
// every scheduled delay.
type RecordingSleeper struct {
	mtx    sync.Mutex
	sleeps []time.Duration
}

// Sleep records d and returns immediately (or the context error).
func (s *RecordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.sleeps = append(s.sleeps, d)
	return nil
}

// Sleeps returns the scheduled delays in order.
func (s *RecordingSleeper) Sleeps() []time.Duration {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return append([]time.Duration(nil), s.sleeps...)
}

// TotalAtLeast sums scheduled delays of at least min.
func (s *RecordingSleeper) TotalAtLeast(min time.Duration) time.Duration {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	var total time.Duration
	for _, d := range s.sleeps {
		if d >= min {
			total += d
		}
	}
	return total
}
