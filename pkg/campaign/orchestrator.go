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

// Package campaign owns the campaign lifecycle: it claims queued campaigns,
// dispatches the fetch shape matching the campaign source, persists leads
// with store-enforced dedupe and drives every campaign to a terminal status
// with a machine-readable stop reason.
package campaign

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hiresignal/leadgen-engine/pkg/browser"
	"github.com/hiresignal/leadgen-engine/pkg/extract"
	"github.com/hiresignal/leadgen-engine/pkg/fetch"
	"github.com/hiresignal/leadgen-engine/pkg/model"
	"github.com/hiresignal/leadgen-engine/pkg/pacing"
	"github.com/hiresignal/leadgen-engine/pkg/store"
)

var (
	campaignsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "leadgen_campaigns_finished_total",
		Help: "Campaigns driven to a terminal status, by stop reason.",
	}, []string{"stop_reason"})
	leadsPersisted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "leadgen_leads_persisted_total",
		Help: "Leads inserted into the store.",
	})
	leadsDuplicate = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "leadgen_leads_duplicate_total",
		Help: "Lead inserts skipped on the uniqueness key.",
	})
	companiesPersisted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "leadgen_companies_persisted_total",
		Help: "Company records inserted into the store.",
	})
)

// Options configure an Orchestrator.
type Options struct {
	// DefaultLimit caps campaigns that carry no limit of their own. Zero
	// means no default: a campaign without a limit completes immediately.
	DefaultLimit int
	// PageParam is the directory pagination query parameter name.
	PageParam string
	// Cookies are the session tokens injected into every browser context.
	Cookies []browser.Cookie
}

func (o *Options) defaults() {
	if o.PageParam == "" {
		o.PageParam = "page"
	}
}

// Orchestrator composes the fetch engine, extractor and store. It is the only
// component that transitions campaign status.
type Orchestrator struct {
	logger    log.Logger
	opts      Options
	store     store.Store
	engine    *fetch.Engine
	extractor *extract.Extractor

	now func() time.Time
}

// New returns an orchestrator.
func New(logger log.Logger, reg prometheus.Registerer, st store.Store, engine *fetch.Engine, extractor *extract.Extractor, opts Options) *Orchestrator {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	opts.defaults()
	if reg != nil {
		reg.MustRegister(campaignsFinished, leadsPersisted, leadsDuplicate, companiesPersisted)
	}
	return &Orchestrator{
		logger:    logger,
		opts:      opts,
		store:     st,
		engine:    engine,
		extractor: extractor,
		now:       time.Now,
	}
}

// run carries the mutable state of one campaign execution.
type run struct {
	o    *Orchestrator
	c    *model.Campaign
	sess *fetch.Session

	limit     int
	collected int
	// rateLimited notes provider pushback seen on some seed URL even when
	// the run moved on to later seeds.
	rateLimited bool
}

// Run drives the campaign to a terminal status. The returned error reports
// infrastructure failure of the run itself; campaign-level failures are
// recorded on the campaign and return nil.
func (o *Orchestrator) Run(ctx context.Context, c *model.Campaign) error {
	logger := log.With(o.logger, "campaign", c.ID, "tenant", c.TenantID, "source", c.Source)

	limit := c.EffectiveLimit(o.opts.DefaultLimit)

	started := o.now().UTC()
	c.Status = model.StatusRunning
	c.Stats.StartedAt = &started
	if err := o.update(ctx, c); err != nil {
		return errors.Wrap(err, "marking campaign running")
	}

	if limit <= 0 {
		level.Info(logger).Log("msg", "campaign has zero limit, nothing to do")
		return o.finish(ctx, c, model.StatusCompleted, model.StopLimitReached)
	}

	sess, err := o.engine.NewSession(ctx, o.opts.Cookies)
	if err != nil {
		level.Error(logger).Log("msg", "browser session launch failed", "err", err)
		c.Stats.Errors++
		return o.finish(ctx, c, model.StatusFailed, model.StopFatal)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			level.Warn(logger).Log("msg", "closing browser session", "err", cerr)
		}
	}()

	r := &run{o: o, c: c, sess: sess, limit: limit}
	if cp := c.Checkpoint; cp != nil {
		r.collected = cp.TotalCollected
	}

	var derr error
	switch c.Source {
	case model.SourceSearchPosts:
		derr = r.runSearch(ctx)
	case model.SourceSeedURLs:
		derr = r.runSeeds(ctx)
	case model.SourceCompanyDirectory:
		derr = r.runDirectory(ctx)
	default:
		level.Error(logger).Log("msg", "unknown campaign source")
		return o.finish(ctx, c, model.StatusFailed, model.StopFatal)
	}

	status, reason := r.outcome(ctx, derr)
	level.Info(logger).Log("msg", "campaign finished", "status", status, "reason", reason,
		"collected", r.collected, "duplicates", c.Stats.Duplicates, "errors", c.Stats.Errors)
	return o.finish(ctx, c, status, reason)
}

// outcome maps the dispatch result onto a terminal (status, stopReason) pair.
func (r *run) outcome(ctx context.Context, derr error) (model.Status, model.StopReason) {
	var blocked *pacing.BlockedError
	switch {
	case derr == nil:
		if r.collected >= r.limit {
			return model.StatusCompleted, model.StopLimitReached
		}
		if r.rateLimited {
			return model.StatusFailed, model.StopRateLimited
		}
		return model.StatusCompleted, model.StopExhausted
	case errors.Is(derr, context.Canceled) || ctx.Err() != nil:
		return model.StatusStopped, model.StopCancelled
	case errors.Is(derr, fetch.ErrExhausted):
		if r.collected >= r.limit {
			return model.StatusCompleted, model.StopLimitReached
		}
		return model.StatusCompleted, model.StopExhausted
	case errors.Is(derr, fetch.ErrRateLimited), errors.As(derr, &blocked):
		return model.StatusFailed, model.StopRateLimited
	case errors.Is(derr, fetch.ErrUnauthenticated):
		return model.StatusFailed, model.StopUnauthenticated
	default:
		return model.StatusFailed, model.StopFatal
	}
}

// runSearch executes a single scroll-and-harvest pass over the content search
// URL, hiring-keyword filter disabled.
func (r *run) runSearch(ctx context.Context) error {
	_, err := r.sess.Harvest(ctx, BuildSearchURL(r.c.Query), r.limit-r.collected, r.emit(ctx, false))
	return err
}

// runSeeds walks the seed URLs, dispatching each by shape. Pushback on one
// seed does not abandon the remaining seeds; it is recorded and reflected in
// the terminal status if the cap is never reached.
func (r *run) runSeeds(ctx context.Context) error {
	seeds := r.c.SeedURLs
	if len(seeds) == 0 {
		return nil
	}
	perURL := ceilDiv(r.limit, len(seeds))

	start := 0
	if cp := r.c.Checkpoint; cp != nil {
		start = cp.LastSeedIndex + 1
	}
	for i := start; i < len(seeds); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.collected >= r.limit {
			break
		}
		quota := perURL
		if remaining := r.limit - r.collected; remaining < quota {
			quota = remaining
		}

		err := r.runSeed(ctx, seeds[i], quota)
		switch {
		case err == nil:
		case errors.Is(err, fetch.ErrRateLimited):
			r.rateLimited = true
			level.Warn(r.logger()).Log("msg", "rate limited on seed, moving on", "seed", seeds[i])
		case errors.Is(err, fetch.ErrExhausted):
		case errors.Is(err, fetch.ErrUnauthenticated):
			return err
		case errors.Is(err, context.Canceled):
			return err
		default:
			var blocked *pacing.BlockedError
			if errors.As(err, &blocked) {
				return err
			}
			r.c.Stats.Errors++
			level.Warn(r.logger()).Log("msg", "seed failed", "seed", seeds[i], "err", err)
		}

		r.c.Checkpoint = &model.Checkpoint{LastSeedIndex: i, TotalCollected: r.collected}
		if uerr := r.o.update(context.WithoutCancel(ctx), r.c); uerr != nil {
			level.Warn(r.logger()).Log("msg", "persisting checkpoint", "err", uerr)
		}
	}
	return nil
}

// runSeed dispatches one seed URL by its path shape.
func (r *run) runSeed(ctx context.Context, seed string, quota int) error {
	switch classifySeed(seed) {
	case seedSinglePost:
		// A directly pasted post URL is explicit intent; the keyword
		// filter only gates noisy profile feeds.
		raw, err := r.sess.FetchPost(ctx, seed)
		if err != nil {
			return err
		}
		_, err = r.emit(ctx, false)(raw)
		return err
	case seedProfileFeed:
		_, err := r.sess.Harvest(ctx, fetch.RewriteProfileURL(seed), quota, r.emit(ctx, true))
		return err
	case seedContentSearch:
		_, err := r.sess.Harvest(ctx, seed, quota, r.emit(ctx, false))
		return err
	case seedCompanyPage:
		level.Warn(r.logger()).Log("msg", "company seed not supported in seed-urls mode", "seed", seed)
		return nil
	default:
		level.Warn(r.logger()).Log("msg", "unrecognized seed shape, skipping", "seed", seed)
		return nil
	}
}

type seedKind int

const (
	seedUnknown seedKind = iota
	seedSinglePost
	seedProfileFeed
	seedContentSearch
	seedCompanyPage
)

func classifySeed(seed string) seedKind {
	switch {
	case strings.Contains(seed, "/feed/update/"), strings.Contains(seed, "/posts/"), strings.Contains(seed, "/activity/"):
		return seedSinglePost
	case strings.Contains(seed, "/search/results/content/"):
		return seedContentSearch
	case strings.Contains(seed, "/company/"):
		return seedCompanyPage
	case strings.Contains(seed, "/in/"):
		return seedProfileFeed
	default:
		return seedUnknown
	}
}

// emit returns the per-card callback: filter, extract, persist, account.
// counted is true only for newly persisted leads, so filtered and duplicate
// cards never consume the harvest cap.
func (r *run) emit(ctx context.Context, filterEnabled bool) fetch.EmitFunc {
	return func(raw model.RawPost) (bool, error) {
		r.c.Stats.PostsProcessed++
		if filterEnabled && !MatchesHiringKeywords(raw.PostText) {
			return false, nil
		}

		now := r.o.now().UTC()
		lead := &model.Lead{
			ID:                    uuid.NewString(),
			TenantID:              r.c.TenantID,
			CampaignID:            r.c.ID,
			ProviderID:            raw.ProviderID,
			AuthorName:            raw.AuthorName,
			AuthorHeadline:        raw.AuthorHeadline,
			AuthorProfileURL:      raw.AuthorProfileURL,
			PostURL:               raw.PostURL,
			PostTitle:             raw.PostTitle,
			PostText:              raw.PostText,
			PostedAt:              raw.PostedAt,
			RawMetadata:           raw,
			LastEnrichmentAttempt: &now,
			CreatedAt:             now,
		}

		fields, xerr := r.o.extractor.Extract(ctx, raw)
		if xerr != nil {
			// The raw capture is kept, the lead stays re-extractable.
			lead.EnrichmentStatus = model.EnrichmentPending
			lead.EnrichmentError = xerr.Error()
			level.Debug(r.logger()).Log("msg", "extraction failed", "provider_id", raw.ProviderID, "err", xerr)
		} else {
			r.o.extractor.EnrichIndustry(ctx, r.sess.PageHTML, &fields)
			lead.Fields = fields
			lead.EnrichmentStatus = model.EnrichmentEnriched
		}

		switch err := r.o.store.InsertLead(ctx, lead); {
		case err == nil:
			leadsPersisted.Inc()
			r.collected++
			r.c.Stats.LeadsExtracted++
			r.c.Progress = progress(r.c.Stats.LeadsExtracted, r.limit)
		case errors.Is(err, store.ErrDuplicate):
			leadsDuplicate.Inc()
			r.c.Stats.Duplicates++
			return false, nil
		default:
			r.c.Stats.Errors++
			level.Warn(r.logger()).Log("msg", "persisting lead", "provider_id", raw.ProviderID, "err", err)
			return false, nil
		}

		if err := r.o.update(ctx, r.c); err != nil {
			level.Warn(r.logger()).Log("msg", "persisting campaign progress", "err", err)
		}
		return true, nil
	}
}

func (r *run) logger() log.Logger {
	return log.With(r.o.logger, "campaign", r.c.ID, "tenant", r.c.TenantID)
}

// finish writes the terminal transition: status, stop reason, finished
// timestamp, cleared checkpoint. The write is detached from the run's
// cancellation so a cancelled campaign still reaches stopped in the store.
func (o *Orchestrator) finish(ctx context.Context, c *model.Campaign, status model.Status, reason model.StopReason) error {
	finished := o.now().UTC()
	c.Status = status
	c.Stats.StopReason = reason
	c.Stats.FinishedAt = &finished
	c.Checkpoint = nil
	if reason == model.StopLimitReached {
		c.Progress = 100
	}
	campaignsFinished.WithLabelValues(string(reason)).Inc()
	return errors.Wrap(o.update(context.WithoutCancel(ctx), c), "writing terminal campaign state")
}

func (o *Orchestrator) update(ctx context.Context, c *model.Campaign) error {
	c.UpdatedAt = o.now().UTC()
	return o.store.UpdateCampaign(ctx, c)
}

// ResetCampaign returns a terminal campaign to queued with cleared stats,
// progress and checkpoint.
func (o *Orchestrator) ResetCampaign(ctx context.Context, tenantID, id string) error {
	c, err := o.store.GetCampaign(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if !c.Status.Terminal() {
		return errors.Errorf("campaign %s is %s, only terminal campaigns can be reset", id, c.Status)
	}
	c.Status = model.StatusQueued
	c.Progress = 0
	c.Stats = model.Stats{}
	c.Checkpoint = nil
	return o.update(ctx, c)
}

func progress(leads, limit int) int {
	if limit <= 0 {
		return 100
	}
	p := int(math.Floor(100 * float64(leads) / float64(limit)))
	if p > 100 {
		p = 100
	}
	return p
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}
