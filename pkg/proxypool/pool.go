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

// Package proxypool selects egress endpoints and tracks their health. An
// empty or fully unhealthy pool degrades to direct connections.
package proxypool

import (
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	selectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "leadgen_proxy_selections_total",
		Help: "Number of times each proxy endpoint was handed out.",
	}, []string{"proxy"})
	failuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "leadgen_proxy_failures_total",
		Help: "Number of recorded failures per proxy endpoint.",
	}, []string{"proxy"})
)

// Strategy names a proxy selection policy.
type Strategy string

// Supported strategies.
const (
	StrategyRandom     Strategy = "random"
	StrategyRoundRobin Strategy = "round-robin"
)

// Default health policy constants.
const (
	DefaultFailureThreshold = 3
	DefaultCooldown         = 30 * time.Minute
)

// Options parameterize pool behavior.
type Options struct {
	Strategy         Strategy
	FailureThreshold int
	Cooldown         time.Duration
}

func (o *Options) defaults() {
	if o.Strategy == "" {
		o.Strategy = StrategyRandom
	}
	if o.FailureThreshold == 0 {
		o.FailureThreshold = DefaultFailureThreshold
	}
	if o.Cooldown == 0 {
		o.Cooldown = DefaultCooldown
	}
}

// Snapshot is an observability view of one endpoint with credentials masked.
type Snapshot struct {
	URL                 string     `json:"url"`
	Healthy             bool       `json:"healthy"`
	SuccessCount        int        `json:"successCount"`
	FailureCount        int        `json:"failureCount"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastUsedAt          *time.Time `json:"lastUsedAt,omitempty"`
	LastFailureAt       *time.Time `json:"lastFailureAt,omitempty"`
}

type entry struct {
	url                 string
	pos                 int
	successCount        int
	failureCount        int
	consecutiveFailures int
	lastUsed            time.Time
	lastFailure         time.Time
	healthy             bool
}

// Pool hands out proxy endpoints per the configured strategy. Thread-safe;
// Next never blocks and performs no I/O.
type Pool struct {
	logger log.Logger
	opts   Options

	now  func() time.Time
	intn func(n int) int

	mtx     sync.Mutex
	entries []*entry
	byURL   map[string]*entry
}

// New returns a pool over the given endpoint URLs in configuration order.
func New(logger log.Logger, reg prometheus.Registerer, urls []string, opts Options) *Pool {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	opts.defaults()
	if reg != nil {
		reg.MustRegister(selectionsTotal, failuresTotal)
	}
	p := &Pool{
		logger: logger,
		opts:   opts,
		now:    time.Now,
		intn:   rand.Intn,
		byURL:  map[string]*entry{},
	}
	for i, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		e := &entry{url: u, pos: i, healthy: true}
		p.entries = append(p.entries, e)
		p.byURL[u] = e
	}
	return p
}

// Next returns the next proxy URL, or "" meaning a direct connection.
func (p *Pool) Next() string {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	healthy := p.healthyLocked()
	if len(healthy) == 0 {
		return ""
	}

	var pick *entry
	switch p.opts.Strategy {
	case StrategyRoundRobin:
		pick = healthy[0]
		for _, e := range healthy[1:] {
			if e.lastUsed.Before(pick.lastUsed) ||
				(e.lastUsed.Equal(pick.lastUsed) && e.pos < pick.pos) {
				pick = e
			}
		}
	default:
		pick = healthy[p.intn(len(healthy))]
	}
	pick.lastUsed = p.now()
	selectionsTotal.WithLabelValues(MaskURL(pick.url)).Inc()
	return pick.url
}

// healthyLocked computes the healthy set, auto-rehabilitating endpoints whose
// cooldown has elapsed.
func (p *Pool) healthyLocked() []*entry {
	now := p.now()
	var out []*entry
	for _, e := range p.entries {
		if !e.healthy && !now.Before(e.lastFailure.Add(p.opts.Cooldown)) {
			e.healthy = true
			e.consecutiveFailures = 0
			level.Info(p.logger).Log("msg", "proxy rehabilitated", "proxy", MaskURL(e.url))
		}
		if e.healthy {
			out = append(out, e)
		}
	}
	return out
}

// RecordSuccess marks a successful use of the endpoint.
func (p *Pool) RecordSuccess(proxyURL string) {
	if proxyURL == "" {
		return
	}
	p.mtx.Lock()
	defer p.mtx.Unlock()
	e, ok := p.byURL[proxyURL]
	if !ok {
		return
	}
	e.successCount++
	e.consecutiveFailures = 0
	e.healthy = true
}

// RecordFailure registers a failed use of the endpoint. Crossing the failure
// threshold takes the endpoint out of rotation for the cooldown period.
func (p *Pool) RecordFailure(proxyURL, reason string) {
	if proxyURL == "" {
		return
	}
	p.mtx.Lock()
	defer p.mtx.Unlock()
	e, ok := p.byURL[proxyURL]
	if !ok {
		return
	}
	e.failureCount++
	e.consecutiveFailures++
	e.lastFailure = p.now()
	failuresTotal.WithLabelValues(MaskURL(proxyURL)).Inc()
	if e.consecutiveFailures >= p.opts.FailureThreshold {
		e.healthy = false
		level.Warn(p.logger).Log("msg", "proxy marked unhealthy",
			"proxy", MaskURL(proxyURL), "consecutive", e.consecutiveFailures, "reason", reason)
	}
}

// Stats returns snapshots for all endpoints with credentials masked.
func (p *Pool) Stats() []Snapshot {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	out := make([]Snapshot, 0, len(p.entries))
	for _, e := range p.entries {
		s := Snapshot{
			URL:                 MaskURL(e.url),
			Healthy:             e.healthy,
			SuccessCount:        e.successCount,
			FailureCount:        e.failureCount,
			ConsecutiveFailures: e.consecutiveFailures,
		}
		if !e.lastUsed.IsZero() {
			t := e.lastUsed
			s.LastUsedAt = &t
		}
		if !e.lastFailure.IsZero() {
			t := e.lastFailure
			s.LastFailureAt = &t
		}
		out = append(out, s)
	}
	return out
}

// Reset rehabilitates the named endpoint, or all endpoints when proxyURL is
// empty.
func (p *Pool) Reset(proxyURL string) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	for _, e := range p.entries {
		if proxyURL != "" && e.url != proxyURL {
			continue
		}
		e.healthy = true
		e.consecutiveFailures = 0
		e.lastFailure = time.Time{}
	}
}

// MaskURL replaces userinfo credentials in a proxy URL with ***:*** so the
// URL is safe for logs and snapshots.
func MaskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = url.UserPassword("***", "***")
	return u.String()
}
