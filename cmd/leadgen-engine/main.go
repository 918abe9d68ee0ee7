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

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/hiresignal/leadgen-engine/pkg/browser"
	"github.com/hiresignal/leadgen-engine/pkg/campaign"
	"github.com/hiresignal/leadgen-engine/pkg/extract"
	"github.com/hiresignal/leadgen-engine/pkg/fetch"
	"github.com/hiresignal/leadgen-engine/pkg/pacing"
	"github.com/hiresignal/leadgen-engine/pkg/proxypool"
	"github.com/hiresignal/leadgen-engine/pkg/store"
	"github.com/hiresignal/leadgen-engine/pkg/store/memstore"
	"github.com/hiresignal/leadgen-engine/pkg/store/mongostore"
)

func main() {
	logger := log.NewJSONLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	logger = log.With(logger, "caller", log.DefaultCaller)

	a := kingpin.New("leadgen-engine", "Campaign-driven lead generation engine")
	a.HelpFlag.Short('h')

	var (
		listenAddress = a.Flag("web.listen-address", "Address for metrics and admin endpoints.").
				Envar("LISTEN_ADDRESS").Default(":9090").String()

		mongoURI = a.Flag("store.mongo-uri", "MongoDB connection string. Empty selects the in-memory store.").
				Envar("MONGO_URI").Default("").String()
		mongoDatabase = a.Flag("store.database", "MongoDB database name.").
				Envar("MONGO_DATABASE").Default("leadgen").String()

		proxyURLs = a.Flag("proxy.urls", "Comma-separated proxy endpoint URLs.").
				Envar("PROXY_URLS").Default("").String()
		proxyRotation = a.Flag("proxy.rotation", "Proxy selection strategy.").
				Envar("PROXY_ROTATION").Default(string(proxypool.StrategyRandom)).
				Enum(string(proxypool.StrategyRandom), string(proxypool.StrategyRoundRobin))

		defaultLimit = a.Flag("campaign.default-limit", "Item cap for campaigns that carry none.").
				Envar("MAX_POSTS").Default("25").Int()
		campaignFile = a.Flag("campaign.file", "YAML file of campaigns to enqueue on startup.").
				Envar("CAMPAIGN_FILE").Default("").String()
		pollInterval = a.Flag("campaign.poll-interval", "How often the runner polls for queued campaigns.").
				Default("10s").Duration()
		pageParam = a.Flag("campaign.page-param", "Pagination query parameter for directory search.").
				Default("page").String()

		cookieFile = a.Flag("session.cookie-file", "File holding the session cookies (YAML or JSON list).").
				Envar("COOKIE_FILE").Default("").String()

		llmBaseURL = a.Flag("llm.base-url", "OpenAI-compatible chat-completions endpoint. Empty uses the provider default.").
				Envar("LLM_BASE_URL").Default("").String()
		llmModel = a.Flag("llm.model", "Model name for field extraction.").
				Envar("LLM_MODEL").Default("gpt-4o-mini").String()
		llmToken = a.Flag("llm.token", "API token for the extraction endpoint.").
				Envar("LLM_TOKEN").Default("").String()

		minSpacing = a.Flag("pacing.min-spacing", "Minimum spacing between requests to one host.").
				Default(pacing.DefaultMinSpacing.String()).Duration()
		windowLimit = a.Flag("pacing.window-limit", "Request cap per host within the sliding window.").
				Default("10").Int()
	)

	if _, err := a.Parse(os.Args[1:]); err != nil {
		_ = level.Error(logger).Log("msg", "Error parsing commandline arguments", "err", err)
		a.Usage(os.Args[1:])
		os.Exit(2)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ctx := context.Background()

	var (
		st  store.Store
		err error
	)
	if *mongoURI != "" {
		st, err = mongostore.Open(ctx, log.With(logger, "component", "store"), *mongoURI, *mongoDatabase)
		if err != nil {
			_ = level.Error(logger).Log("msg", "Opening document store", "err", err)
			os.Exit(1)
		}
	} else {
		_ = level.Warn(logger).Log("msg", "No store URI configured, using the in-memory store; data is lost on exit")
		st = memstore.New()
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			_ = level.Warn(logger).Log("msg", "Closing store", "err", err)
		}
	}()

	cookies, err := readCookies(*cookieFile)
	if err != nil {
		_ = level.Error(logger).Log("msg", "Loading session cookies", "err", err)
		os.Exit(1)
	}

	governor := pacing.New(log.With(logger, "component", "pacing"), reg, pacing.Options{
		MinSpacing:  *minSpacing,
		WindowLimit: *windowLimit,
	})
	pool := proxypool.New(log.With(logger, "component", "proxypool"), reg,
		splitCommaList(*proxyURLs), proxypool.Options{
			Strategy: proxypool.Strategy(*proxyRotation),
		})

	engine := fetch.New(log.With(logger, "component", "fetch"), reg,
		browser.Unavailable(), governor, pool, fetch.Options{})

	completer, err := extract.NewOpenAICompleter(extract.OpenAIOptions{
		BaseURL: *llmBaseURL,
		Token:   *llmToken,
		Model:   *llmModel,
	})
	if err != nil {
		_ = level.Error(logger).Log("msg", "Creating extraction completer", "err", err)
		os.Exit(1)
	}
	extractor := extract.New(log.With(logger, "component", "extract"), reg, completer, extract.Options{})

	orch := campaign.New(log.With(logger, "component", "campaign"), reg, st, engine, extractor, campaign.Options{
		DefaultLimit: *defaultLimit,
		PageParam:    *pageParam,
		Cookies:      cookies,
	})
	runner := campaign.NewRunner(log.With(logger, "component", "runner"), orch, *pollInterval)

	if *campaignFile != "" {
		campaigns, err := campaign.LoadFile(*campaignFile)
		if err != nil {
			_ = level.Error(logger).Log("msg", "Loading campaign file", "err", err)
			os.Exit(1)
		}
		for _, c := range campaigns {
			if err := st.CreateCampaign(ctx, &c); err != nil {
				_ = level.Error(logger).Log("msg", "Enqueueing campaign", "campaign", c.ID, "err", err)
				os.Exit(1)
			}
			_ = level.Info(logger).Log("msg", "Enqueued campaign", "campaign", c.ID, "tenant", c.TenantID, "source", c.Source)
		}
	}

	var g run.Group
	{
		// Termination handler.
		term := make(chan os.Signal, 1)
		cancel := make(chan struct{})
		signal.Notify(term, os.Interrupt, syscall.SIGTERM)
		g.Add(
			func() error {
				select {
				case <-term:
					_ = level.Info(logger).Log("msg", "received SIGTERM, exiting gracefully...")
				case <-cancel:
				}
				return nil
			},
			func(error) {
				close(cancel)
			},
		)
	}
	{
		// Campaign runner.
		ctxRunner, cancelRunner := context.WithCancel(ctx)
		g.Add(func() error {
			return runner.Run(ctxRunner)
		}, func(error) {
			cancelRunner()
		})
	}
	{
		// Metrics and admin endpoints.
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		mux.HandleFunc("/-/healthy", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		mux.HandleFunc("/-/pacing", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(logger, w, governor.Snapshot())
		})
		mux.HandleFunc("/-/pacing/reset", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				http.Error(w, "POST required", http.StatusMethodNotAllowed)
				return
			}
			if host := r.URL.Query().Get("host"); host != "" {
				governor.Reset(host)
			} else {
				governor.ResetAll()
			}
			w.WriteHeader(http.StatusOK)
		})
		mux.HandleFunc("/-/proxies", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(logger, w, pool.Stats())
		})
		mux.HandleFunc("/-/proxies/reset", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				http.Error(w, "POST required", http.StatusMethodNotAllowed)
				return
			}
			pool.Reset(r.URL.Query().Get("url"))
			w.WriteHeader(http.StatusOK)
		})
		mux.HandleFunc("/-/campaigns/reset", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				http.Error(w, "POST required", http.StatusMethodNotAllowed)
				return
			}
			q := r.URL.Query()
			if err := orch.ResetCampaign(r.Context(), q.Get("tenant"), q.Get("id")); err != nil {
				http.Error(w, err.Error(), http.StatusConflict)
				return
			}
			w.WriteHeader(http.StatusOK)
		})
		mux.HandleFunc("/-/campaigns/reenrich", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				http.Error(w, "POST required", http.StatusMethodNotAllowed)
				return
			}
			q := r.URL.Query()
			n, err := orch.Reenrich(r.Context(), q.Get("tenant"), q.Get("id"))
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(logger, w, map[string]int{"enriched": n})
		})

		server := &http.Server{Addr: *listenAddress, Handler: mux}
		g.Add(func() error {
			_ = level.Info(logger).Log("msg", "Starting web server", "listen", *listenAddress)
			return server.ListenAndServe()
		}, func(error) {
			ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancelShutdown()
			if err := server.Shutdown(ctxShutdown); err != nil {
				_ = level.Warn(logger).Log("msg", "Shutting down web server", "err", err)
			}
		})
	}

	if err := g.Run(); err != nil {
		_ = level.Error(logger).Log("msg", "Exit with error", "err", err)
		os.Exit(1)
	}
	_ = level.Info(logger).Log("msg", "Exiting")
}

// readCookies loads session cookies from a YAML or JSON file. YAML parsing
// accepts JSON input, so one decoder covers both layouts.
func readCookies(path string) ([]browser.Cookie, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cookies []browser.Cookie
	if err := yaml.Unmarshal(b, &cookies); err != nil {
		return nil, err
	}
	return cookies, nil
}

func splitCommaList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func writeJSON(logger log.Logger, w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		_ = level.Warn(logger).Log("msg", "Encoding admin response", "err", err)
	}
}
