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

// Package pacing implements the per-host admission controller that serializes
// outbound navigations under a minimum-spacing, sliding-window and backoff
// policy. It is purely in-memory and safe for concurrent use by many fetchers.
package pacing

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	permitsIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "leadgen_pacing_permits_total",
		Help: "Number of navigation permits issued per host.",
	}, []string{"host"})
	permitsBlocked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "leadgen_pacing_blocked_total",
		Help: "Number of admission requests refused due to extended backoff.",
	}, []string{"host"})
	rateLimitsRecorded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "leadgen_pacing_rate_limits_total",
		Help: "Number of provider rate-limit signals recorded per host.",
	}, []string{"host"})
	waitSeconds = prometheus.NewSummary(prometheus.SummaryOpts{
		Name:       "leadgen_pacing_wait_seconds",
		Help:       "Wait imposed before a permit was issued.",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	})
)

// Default policy constants. These are properties of the pacing contract with
// the provider, not end-user configuration.
const (
	DefaultMinSpacing        = 10 * time.Minute
	DefaultJitter            = 5 * time.Minute
	DefaultBackoffCap        = 60 * time.Minute
	DefaultWindow            = 60 * time.Minute
	DefaultWindowLimit       = 10
	DefaultExtendedThreshold = 3
	DefaultExtendedCooldown  = 2 * time.Hour
)

// Options parameterize the policy per host. Zero values fall back to the
// defaults above.
type Options struct {
	// Minimum spacing between two permitted requests to the same host.
	MinSpacing time.Duration
	// Uniform jitter in [-Jitter, +Jitter] added to the spacing wait. The
	// effective wait never drops below the backed-off spacing.
	Jitter time.Duration
	// Cap for the exponentially backed-off spacing.
	BackoffCap time.Duration
	// Sliding window length and the permit cap within it.
	Window      time.Duration
	WindowLimit int
	// Number of consecutive rate limits after which the host enters the
	// extended cooldown.
	ExtendedThreshold int
	ExtendedCooldown  time.Duration
}

func (o *Options) defaults() {
	if o.MinSpacing == 0 {
		o.MinSpacing = DefaultMinSpacing
	}
	if o.Jitter == 0 {
		o.Jitter = DefaultJitter
	}
	if o.BackoffCap == 0 {
		o.BackoffCap = DefaultBackoffCap
	}
	if o.Window == 0 {
		o.Window = DefaultWindow
	}
	if o.WindowLimit == 0 {
		o.WindowLimit = DefaultWindowLimit
	}
	if o.ExtendedThreshold == 0 {
		o.ExtendedThreshold = DefaultExtendedThreshold
	}
	if o.ExtendedCooldown == 0 {
		o.ExtendedCooldown = DefaultExtendedCooldown
	}
}

// BlockedError is reported by Await when the host is in extended backoff and
// the caller should abandon the request rather than wait.
type BlockedError struct {
	Host       string
	RetryAfter time.Duration
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("host %q blocked, retry after %s", e.Host, e.RetryAfter)
}

// HostSnapshot is an observability view of a single host's pacing state.
type HostSnapshot struct {
	Host                  string     `json:"host"`
	LastRequestAt         *time.Time `json:"lastRequestAt,omitempty"`
	RequestsInWindow      int        `json:"requestsInWindow"`
	ConsecutiveRateLimits int        `json:"consecutiveRateLimits"`
	ExtendedBackoffUntil  *time.Time `json:"extendedBackoffUntil,omitempty"`
	Errors                int        `json:"errors"`
}

type hostState struct {
	// turn is a single-slot token serializing Await calls for the host.
	// Simultaneous callers queue on it; a cancelled waiter releases it.
	turn chan struct{}

	lastRequest           time.Time
	window                []time.Time
	consecutiveRateLimits int
	extendedUntil         time.Time
	errors                int
}

// Governor enforces the pacing policy. The zero value is not usable; use New.
type Governor struct {
	logger log.Logger
	opts   Options

	// Overridable for tests.
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration

	mtx   sync.Mutex
	hosts map[string]*hostState
}

// New returns a governor with the given policy options.
func New(logger log.Logger, reg prometheus.Registerer, opts Options) *Governor {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	opts.defaults()
	if reg != nil {
		reg.MustRegister(permitsIssued, permitsBlocked, rateLimitsRecorded, waitSeconds)
	}
	return &Governor{
		logger: logger,
		opts:   opts,
		now:    time.Now,
		sleep:  sleepContext,
		jitter: func(max time.Duration) time.Duration {
			return time.Duration(rand.Int63n(int64(2*max+1))) - max
		},
		hosts: map[string]*hostState{},
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (g *Governor) host(host string) *hostState {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	hs, ok := g.hosts[host]
	if !ok {
		hs = &hostState{turn: make(chan struct{}, 1)}
		hs.turn <- struct{}{}
		g.hosts[host] = hs
	}
	return hs
}

// Await blocks until a request to host is permitted. It returns nil on
// permission, a *BlockedError if the host is in extended backoff, or the
// context error on cancellation. Calls for the same host are strictly
// serialized; a cancelled call releases its slot.
func (g *Governor) Await(ctx context.Context, host string) error {
	hs := g.host(host)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-hs.turn:
	}
	defer func() { hs.turn <- struct{}{} }()

	var total time.Duration
	for {
		wait, blocked := g.nextWait(hs)
		if blocked != nil {
			permitsBlocked.WithLabelValues(host).Inc()
			blocked.Host = host
			return blocked
		}
		if wait <= 0 {
			g.permit(hs)
			permitsIssued.WithLabelValues(host).Inc()
			waitSeconds.Observe(total.Seconds())
			return nil
		}
		level.Debug(g.logger).Log("msg", "pacing wait", "host", host, "wait", wait)
		if err := g.sleep(ctx, wait); err != nil {
			return err
		}
		total += wait
	}
}

// nextWait computes how long the caller has to wait before the next permit,
// or a BlockedError when the host is in extended cooldown.
func (g *Governor) nextWait(hs *hostState) (time.Duration, *BlockedError) {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	now := g.now()
	if hs.extendedUntil.After(now) {
		return 0, &BlockedError{RetryAfter: hs.extendedUntil.Sub(now)}
	}

	var spacingWait time.Duration
	if !hs.lastRequest.IsZero() {
		base := g.effectiveSpacing(hs)
		spacing := base + g.jitter(g.opts.Jitter)
		// Negative jitter must not undercut the backed-off spacing.
		if spacing < base {
			spacing = base
		}
		spacingWait = hs.lastRequest.Add(spacing).Sub(now)
	}

	// Drop window entries older than the window length, then wait for the
	// oldest remaining entry to fall out if the window is at capacity.
	var windowWait time.Duration
	cutoff := now.Add(-g.opts.Window)
	for len(hs.window) > 0 && !hs.window[0].After(cutoff) {
		hs.window = hs.window[1:]
	}
	if len(hs.window) >= g.opts.WindowLimit {
		oldest := hs.window[len(hs.window)-g.opts.WindowLimit]
		windowWait = oldest.Add(g.opts.Window).Sub(now)
	}

	// The longer of the two requirements wins.
	wait := spacingWait
	if windowWait > wait {
		wait = windowWait
	}
	return wait, nil
}

func (g *Governor) effectiveSpacing(hs *hostState) time.Duration {
	spacing := g.opts.MinSpacing
	for i := 0; i < hs.consecutiveRateLimits; i++ {
		spacing *= 2
		if spacing >= g.opts.BackoffCap {
			return g.opts.BackoffCap
		}
	}
	return spacing
}

func (g *Governor) permit(hs *hostState) {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	now := g.now()
	hs.lastRequest = now
	hs.window = append(hs.window, now)
}

// RecordSuccess resets the backoff state for host after a successful fetch.
func (g *Governor) RecordSuccess(host string) {
	hs := g.host(host)
	g.mtx.Lock()
	defer g.mtx.Unlock()
	hs.consecutiveRateLimits = 0
	hs.extendedUntil = time.Time{}
}

// RecordRateLimit registers provider pushback for host. Crossing the
// threshold starts the extended cooldown.
func (g *Governor) RecordRateLimit(host string) {
	hs := g.host(host)
	g.mtx.Lock()
	defer g.mtx.Unlock()
	hs.consecutiveRateLimits++
	rateLimitsRecorded.WithLabelValues(host).Inc()
	if hs.consecutiveRateLimits >= g.opts.ExtendedThreshold {
		hs.extendedUntil = g.now().Add(g.opts.ExtendedCooldown)
		level.Warn(g.logger).Log("msg", "host entering extended backoff",
			"host", host, "until", hs.extendedUntil, "consecutive", hs.consecutiveRateLimits)
	}
}

// RecordError registers a transport-level failure. It deliberately leaves the
// rate-limit counter untouched; only provider pushback escalates backoff.
func (g *Governor) RecordError(host string) {
	hs := g.host(host)
	g.mtx.Lock()
	defer g.mtx.Unlock()
	hs.errors++
}

// Stats returns a snapshot of the pacing state for host.
func (g *Governor) Stats(host string) HostSnapshot {
	hs := g.host(host)
	g.mtx.Lock()
	defer g.mtx.Unlock()
	return g.snapshotLocked(host, hs)
}

// Snapshot returns the state of every host the governor has seen.
func (g *Governor) Snapshot() []HostSnapshot {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	out := make([]HostSnapshot, 0, len(g.hosts))
	for host, hs := range g.hosts {
		out = append(out, g.snapshotLocked(host, hs))
	}
	return out
}

func (g *Governor) snapshotLocked(host string, hs *hostState) HostSnapshot {
	s := HostSnapshot{
		Host:                  host,
		RequestsInWindow:      len(hs.window),
		ConsecutiveRateLimits: hs.consecutiveRateLimits,
		Errors:                hs.errors,
	}
	if !hs.lastRequest.IsZero() {
		t := hs.lastRequest
		s.LastRequestAt = &t
	}
	if !hs.extendedUntil.IsZero() && hs.extendedUntil.After(g.now()) {
		t := hs.extendedUntil
		s.ExtendedBackoffUntil = &t
	}
	return s
}

// Reset clears all pacing state for host.
func (g *Governor) Reset(host string) {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	hs, ok := g.hosts[host]
	if !ok {
		return
	}
	hs.lastRequest = time.Time{}
	hs.window = nil
	hs.consecutiveRateLimits = 0
	hs.extendedUntil = time.Time{}
	hs.errors = 0
}

// ResetAll clears pacing state for every host.
func (g *Governor) ResetAll() {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	g.hosts = map[string]*hostState{}
}
