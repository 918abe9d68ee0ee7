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

// Package fetch drives the browser capability to harvest raw post records
// under the pacing contract: admission through the governor before every
// navigation, human-paced scrolling and inter-card delays, and immediate
// propagation of provider pushback.
package fetch

import (
	"context"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hiresignal/leadgen-engine/pkg/browser"
)

var (
	navigationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "leadgen_fetch_navigations_total",
		Help: "Navigations performed, by outcome.",
	}, []string{"outcome"})
	cardsHarvested = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "leadgen_fetch_cards_harvested_total",
		Help: "Cards captured as raw records.",
	})
	cardsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "leadgen_fetch_cards_skipped_total",
		Help: "Cards disqualified for lacking a resolvable activity ID.",
	})
)

// Sentinel outcomes surfaced to the orchestrator. Everything else returned by
// this package is transient or fatal per the caller's judgment.
var (
	// ErrRateLimited signals provider pushback on the current page.
	ErrRateLimited = errors.New("provider rate limit detected")
	// ErrUnauthenticated signals a resolved login/authwall page.
	ErrUnauthenticated = errors.New("session unauthenticated")
	// ErrExhausted signals that both scroll retry budgets ran out without
	// new records.
	ErrExhausted = errors.New("scroll retries exhausted without new records")
	// ErrStopHarvest may be returned by an emit callback to end the harvest
	// cleanly.
	ErrStopHarvest = errors.New("stop harvest")
)

// Governor is the admission-control surface the engine consumes.
type Governor interface {
	Await(ctx context.Context, host string) error
	RecordSuccess(host string)
	RecordRateLimit(host string)
	RecordError(host string)
}

// Proxies is the endpoint-selection surface the engine consumes.
type Proxies interface {
	Next() string
	RecordSuccess(proxyURL string)
	RecordFailure(proxyURL, reason string)
}

// Sleeper performs cancellable sleeps. Tests substitute a recording
// implementation so human-paced delays are asserted, not waited out.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type contextSleeper struct{}

func (contextSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Default loop and delay constants (see the scroll-and-harvest protocol).
const (
	DefaultQuickRetries    = 3
	DefaultLongWaitRetries = 3
	DefaultLongWait        = 60 * time.Second
	DefaultCardDelayMin    = 18 * time.Second
	DefaultCardDelayMax    = 30 * time.Second
	DefaultSettleMin       = time.Second
	DefaultSettleMax       = 2 * time.Second
	DefaultNavTimeout      = 60 * time.Second
)

// Options configure an Engine.
type Options struct {
	QuickRetries    int
	LongWaitRetries int
	LongWait        time.Duration
	// Inter-card delay bounds. These are part of the pacing contract and
	// apply even without provider pushback.
	CardDelayMin time.Duration
	CardDelayMax time.Duration
	// Pause after scrolling a card into view.
	SettleMin time.Duration
	SettleMax time.Duration
	// Per-navigation deadline (domcontentloaded).
	NavTimeout time.Duration

	ProfileDir     string
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int

	// Sleeper overrides the delay implementation; nil uses real sleeps.
	Sleeper Sleeper
}

func (o *Options) defaults() {
	if o.QuickRetries == 0 {
		o.QuickRetries = DefaultQuickRetries
	}
	if o.LongWaitRetries == 0 {
		o.LongWaitRetries = DefaultLongWaitRetries
	}
	if o.LongWait == 0 {
		o.LongWait = DefaultLongWait
	}
	if o.CardDelayMin == 0 {
		o.CardDelayMin = DefaultCardDelayMin
	}
	if o.CardDelayMax == 0 {
		o.CardDelayMax = DefaultCardDelayMax
	}
	if o.SettleMin == 0 {
		o.SettleMin = DefaultSettleMin
	}
	if o.SettleMax == 0 {
		o.SettleMax = DefaultSettleMax
	}
	if o.NavTimeout == 0 {
		o.NavTimeout = DefaultNavTimeout
	}
	if o.ViewportWidth == 0 {
		o.ViewportWidth = 1440
	}
	if o.ViewportHeight == 0 {
		o.ViewportHeight = 900
	}
	if o.UserAgent == "" {
		o.UserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	}
	if o.Sleeper == nil {
		o.Sleeper = contextSleeper{}
	}
}

// Engine drives the browser capability. It holds no per-campaign state;
// sessions do.
type Engine struct {
	logger   log.Logger
	opts     Options
	driver   browser.Driver
	governor Governor
	proxies  Proxies
}

// New returns an engine over the given driver and shared pacing state.
func New(logger log.Logger, reg prometheus.Registerer, driver browser.Driver, governor Governor, proxies Proxies, opts Options) *Engine {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	opts.defaults()
	if reg != nil {
		reg.MustRegister(navigationsTotal, cardsHarvested, cardsSkipped)
	}
	return &Engine{
		logger:   logger,
		opts:     opts,
		driver:   driver,
		governor: governor,
		proxies:  proxies,
	}
}

// Session is one campaign's exclusive browser context.
type Session struct {
	engine   *Engine
	bctx     browser.Context
	page     browser.Page
	proxyURL string
	host     string
}

// NewSession launches an authenticated browser context through the next
// healthy proxy (or directly if none is available).
func (e *Engine) NewSession(ctx context.Context, cookies []browser.Cookie) (*Session, error) {
	proxyURL := e.proxies.Next()
	bctx, err := e.driver.LaunchContext(ctx, browser.ContextOptions{
		ProfileDir:     e.opts.ProfileDir,
		ViewportWidth:  e.opts.ViewportWidth,
		ViewportHeight: e.opts.ViewportHeight,
		UserAgent:      e.opts.UserAgent,
		Cookies:        cookies,
		ProxyURL:       proxyURL,
	})
	if err != nil {
		if proxyURL != "" {
			e.proxies.RecordFailure(proxyURL, err.Error())
		}
		return nil, errors.Wrap(err, "launching browser context")
	}
	page, err := bctx.NewPage(ctx)
	if err != nil {
		bctx.Close()
		return nil, errors.Wrap(err, "opening page")
	}
	return &Session{engine: e, bctx: bctx, page: page, proxyURL: proxyURL}, nil
}

// ProxyURL returns the egress endpoint the session was launched with, or ""
// for a direct connection.
func (s *Session) ProxyURL() string { return s.proxyURL }

// Close releases the browser context.
func (s *Session) Close() error { return s.bctx.Close() }

// Navigate performs an admission-controlled navigation and classifies the
// result. It returns ErrRateLimited, ErrUnauthenticated, a *pacing.BlockedError
// passed through from the governor, or a transient error.
func (s *Session) Navigate(ctx context.Context, rawURL string) error {
	host := hostKey(rawURL)
	if err := s.engine.governor.Await(ctx, host); err != nil {
		return err
	}
	s.host = host

	if err := s.page.Goto(ctx, rawURL, s.engine.opts.NavTimeout); err != nil {
		navigationsTotal.WithLabelValues("error").Inc()
		s.engine.governor.RecordError(host)
		s.engine.proxies.RecordFailure(s.proxyURL, err.Error())
		return errors.Wrapf(err, "navigating to %s", rawURL)
	}

	body, err := s.page.InnerText(ctx)
	if err != nil {
		navigationsTotal.WithLabelValues("error").Inc()
		s.engine.governor.RecordError(host)
		return errors.Wrap(err, "reading page text")
	}
	switch classify(s.page.URL(), body) {
	case outcomeRateLimited:
		navigationsTotal.WithLabelValues("rate_limited").Inc()
		s.engine.governor.RecordRateLimit(host)
		level.Warn(s.engine.logger).Log("msg", "rate limit detected", "url", s.page.URL())
		return ErrRateLimited
	case outcomeUnauthenticated:
		navigationsTotal.WithLabelValues("unauthenticated").Inc()
		return ErrUnauthenticated
	}
	navigationsTotal.WithLabelValues("ok").Inc()
	s.engine.governor.RecordSuccess(host)
	s.engine.proxies.RecordSuccess(s.proxyURL)
	return nil
}

// PageHTML navigates to rawURL and returns the rendered HTML. Used for pages
// that are parsed wholesale rather than card by card.
func (s *Session) PageHTML(ctx context.Context, rawURL string) (string, error) {
	if err := s.Navigate(ctx, rawURL); err != nil {
		return "", err
	}
	return s.page.Content(ctx)
}

func (e *Engine) sleepRange(ctx context.Context, min, max time.Duration) error {
	return e.opts.Sleeper.Sleep(ctx, randDuration(min, max))
}

func randDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)+1))
}

// hostKey normalizes a URL to the governor's host key, e.g.
// https://www.linkedin.com/feed -> linkedin.com.
func hostKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return rawURL
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}
