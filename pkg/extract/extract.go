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

// Package extract turns raw captured posts into structured lead fields by
// prompting an LLM endpoint with a strict JSON schema contract. A failed or
// unreachable endpoint yields an error and zero-value fields; the caller keeps
// the lead re-extractable instead of dropping it.
package extract

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"

	"github.com/hiresignal/leadgen-engine/pkg/model"
)

var (
	extractionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "leadgen_extract_requests_total",
		Help: "Field extraction attempts, by outcome.",
	}, []string{"outcome"})
	extractionSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "leadgen_extract_duration_seconds",
		Help:    "Latency of LLM field extraction calls.",
		Buckets: prometheus.DefBuckets,
	})
)

// Completer is the single-operation LLM capability.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, system, user string) (string, error)

// Complete implements Completer.
func (f CompleterFunc) Complete(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

// Options configure an Extractor.
type Options struct {
	// Timeout bounds a single completion call.
	Timeout time.Duration
	// BreakerFailures consecutive failures open the circuit.
	BreakerFailures uint32
	// BreakerCooldown is how long the circuit stays open.
	BreakerCooldown time.Duration
}

func (o *Options) defaults() {
	if o.Timeout == 0 {
		o.Timeout = 30 * time.Second
	}
	if o.BreakerFailures == 0 {
		o.BreakerFailures = 5
	}
	if o.BreakerCooldown == 0 {
		o.BreakerCooldown = 2 * time.Minute
	}
}

// Extractor prompts the completer and parses its response.
type Extractor struct {
	logger    log.Logger
	opts      Options
	completer Completer
	breaker   *gobreaker.CircuitBreaker
}

// New returns an extractor over the given completer.
func New(logger log.Logger, reg prometheus.Registerer, completer Completer, opts Options) *Extractor {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	opts.defaults()
	if reg != nil {
		reg.MustRegister(extractionsTotal, extractionSeconds)
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "llm-extractor",
		Timeout: opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			level.Warn(logger).Log("msg", "extractor circuit state change", "from", from.String(), "to", to.String())
		},
	})
	return &Extractor{logger: logger, opts: opts, completer: completer, breaker: breaker}
}

// Extract produces structured fields for one raw capture. On any failure it
// returns zero-value fields and a non-nil error; partial parses do not leak.
func (e *Extractor) Extract(ctx context.Context, raw model.RawPost) (model.LeadFields, error) {
	system := systemDirective
	user := userPrompt(raw)

	start := time.Now()
	out, err := e.breaker.Execute(func() (interface{}, error) {
		cctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
		return e.completer.Complete(cctx, system, user)
	})
	extractionSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		extractionsTotal.WithLabelValues("error").Inc()
		return model.LeadFields{}, errors.Wrap(err, "completing extraction prompt")
	}

	text, _ := out.(string)
	obj, ok := firstJSONObject(text)
	if !ok {
		extractionsTotal.WithLabelValues("unparseable").Inc()
		return model.LeadFields{}, errors.Errorf("no JSON object in completion of %d bytes", len(text))
	}
	var fields model.LeadFields
	if err := json.Unmarshal([]byte(obj), &fields); err != nil {
		extractionsTotal.WithLabelValues("unparseable").Inc()
		return model.LeadFields{}, errors.Wrap(err, "decoding extraction JSON")
	}
	// The capture's own company link wins over anything the model invents.
	if raw.CompanyURL != "" {
		fields.CompanyURL = raw.CompanyURL
	}
	extractionsTotal.WithLabelValues("ok").Inc()
	return fields, nil
}
