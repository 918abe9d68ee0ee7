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
	"reflect"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/hiresignal/leadgen-engine/pkg/browser/browsertest"
	"github.com/hiresignal/leadgen-engine/pkg/extract"
	"github.com/hiresignal/leadgen-engine/pkg/fetch"
	"github.com/hiresignal/leadgen-engine/pkg/fetch/fetchtest"
	"github.com/hiresignal/leadgen-engine/pkg/model"
	"github.com/hiresignal/leadgen-engine/pkg/pacing"
	"github.com/hiresignal/leadgen-engine/pkg/proxypool"
	"github.com/hiresignal/leadgen-engine/pkg/store"
	"github.com/hiresignal/leadgen-engine/pkg/store/memstore"
)

const extractorResponse = `{"company":"Acme Corp","jobTitles":["AI Engineer"],"seniority":"senior"}`

// env wires a full orchestrator over the scripted browser, the in-memory
// store and a real governor with near-zero pacing so runs finish instantly.
type env struct {
	store   *memstore.Store
	driver  *browsertest.Driver
	gov     *pacing.Governor
	sleeper *fetchtest.RecordingSleeper
	orch    *Orchestrator
}

func newEnv(t *testing.T, completer extract.Completer) *env {
	t.Helper()
	e := &env{
		store:   memstore.New(),
		driver:  browsertest.NewDriver(),
		sleeper: &fetchtest.RecordingSleeper{},
	}
	e.gov = pacing.New(nil, nil, pacing.Options{
		MinSpacing:        time.Nanosecond,
		Jitter:            time.Nanosecond,
		BackoffCap:        10 * time.Nanosecond,
		Window:            time.Hour,
		WindowLimit:       1000,
		ExtendedThreshold: 3,
		ExtendedCooldown:  2 * time.Hour,
	})
	pool := proxypool.New(nil, nil, nil, proxypool.Options{})
	engine := fetch.New(nil, nil, e.driver, e.gov, pool, fetch.Options{Sleeper: e.sleeper})
	extractor := extract.New(nil, nil, completer, extract.Options{})
	e.orch = New(nil, nil, e.store, engine, extractor, Options{DefaultLimit: 25})
	return e
}

func okCompleter() extract.Completer {
	return extract.CompleterFunc(func(context.Context, string, string) (string, error) {
		return extractorResponse, nil
	})
}

func (e *env) createAndRun(t *testing.T, c *model.Campaign) *model.Campaign {
	t.Helper()
	ctx := context.Background()
	if err := e.store.CreateCampaign(ctx, c); err != nil {
		t.Fatalf("CreateCampaign: %v", err)
	}
	if err := e.orch.Run(ctx, c); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, err := e.store.GetCampaign(ctx, c.TenantID, c.ID)
	if err != nil {
		t.Fatalf("GetCampaign after run: %v", err)
	}
	return got
}

func providerIDs(leads []model.Lead) map[string]bool {
	out := map[string]bool{}
	for _, l := range leads {
		out[l.ProviderID] = true
	}
	return out
}

func TestRunSearchCapReached(t *testing.T) {
	e := newEnv(t, okCompleter())
	c := &model.Campaign{
		ID: "c1", TenantID: "t1", Source: model.SourceSearchPosts,
		Status:   model.StatusQueued,
		Query:    model.Query{Roles: "AI engineer", Period: "past week"},
		MaxItems: 3,
	}
	e.driver.AddPage(BuildSearchURL(c.Query), fetchtest.FeedPage(
		fetchtest.SimpleCard("1001", "we're hiring an AI engineer"),
		fetchtest.SimpleCard("1002", "AI engineer wanted"),
		fetchtest.SimpleCard("1003", "senior AI engineer, remote"),
		fetchtest.SimpleCard("1004", "another AI engineer opening"),
		fetchtest.SimpleCard("1005", "AI platform team growing"),
	))

	got := e.createAndRun(t, c)
	if got.Status != model.StatusCompleted || got.Stats.StopReason != model.StopLimitReached {
		t.Fatalf("campaign ended (%s, %s), want (completed, limit_reached)", got.Status, got.Stats.StopReason)
	}
	if got.Progress != 100 {
		t.Fatalf("progress = %d, want 100", got.Progress)
	}

	leads, err := e.store.ListLeads(context.Background(), "t1", store.LeadFilter{CampaignID: "c1"})
	if err != nil || len(leads) != 3 {
		t.Fatalf("persisted %d leads (%v), want 3", len(leads), err)
	}
	ids := providerIDs(leads)
	for _, want := range []string{"1001", "1002", "1003"} {
		if !ids[want] {
			t.Fatalf("leads = %v, want first three cards", ids)
		}
	}
	for _, l := range leads {
		if l.EnrichmentStatus != model.EnrichmentEnriched || l.Fields.Company != "Acme Corp" {
			t.Fatalf("lead %s not enriched: %+v", l.ProviderID, l)
		}
	}

	// Two inter-card pauses at the 18s floor minimum were scheduled.
	if total := e.sleeper.TotalAtLeast(18 * time.Second); total < 36*time.Second {
		t.Fatalf("inter-card sleep total = %s, want at least 36s", total)
	}
}

func TestRunSeedURLKeywordFilter(t *testing.T) {
	e := newEnv(t, okCompleter())
	seed := "https://www.linkedin.com/in/u/recent-activity/all/"
	c := &model.Campaign{
		ID: "c1", TenantID: "t1", Source: model.SourceSeedURLs,
		Status: model.StatusQueued, SeedURLs: []string{seed}, MaxItems: 10,
	}
	e.driver.AddPage(seed, fetchtest.FeedPage(
		fetchtest.SimpleCard("9001", "we're hiring backend"),
		fetchtest.SimpleCard("9002", "vacation pics"),
		fetchtest.SimpleCard("9003", "new role opening on my team"),
		fetchtest.SimpleCard("9004", "book recommendations"),
	))

	got := e.createAndRun(t, c)
	if got.Status != model.StatusCompleted || got.Stats.StopReason != model.StopExhausted {
		t.Fatalf("campaign ended (%s, %s), want (completed, exhausted)", got.Status, got.Stats.StopReason)
	}

	leads, err := e.store.ListLeads(context.Background(), "t1", store.LeadFilter{CampaignID: "c1"})
	if err != nil || len(leads) != 2 {
		t.Fatalf("persisted %d leads (%v), want 2 after keyword filter", len(leads), err)
	}
	ids := providerIDs(leads)
	if !ids["9001"] || !ids["9003"] {
		t.Fatalf("leads = %v, want the two hiring cards", ids)
	}
	if got.Stats.PostsProcessed != 4 {
		t.Fatalf("postsProcessed = %d, want all 4 harvested cards", got.Stats.PostsProcessed)
	}
}

func TestRunRateLimitCascade(t *testing.T) {
	e := newEnv(t, okCompleter())
	seeds := []string{
		"https://www.linkedin.com/in/a/recent-activity/all/",
		"https://www.linkedin.com/in/b/recent-activity/all/",
		"https://www.linkedin.com/in/c/recent-activity/all/",
	}
	for _, s := range seeds {
		e.driver.AddPage(s, &browsertest.PageScript{
			ResolvedURL: "https://www.linkedin.com/checkpoint/challenge/",
			BodyText:    "Let's do a quick security check",
		})
	}
	c := &model.Campaign{
		ID: "c1", TenantID: "t1", Source: model.SourceSeedURLs,
		Status: model.StatusQueued, SeedURLs: seeds, MaxItems: 9,
	}

	got := e.createAndRun(t, c)
	if got.Status != model.StatusFailed || got.Stats.StopReason != model.StopRateLimited {
		t.Fatalf("campaign ended (%s, %s), want (failed, rate_limit_detected)", got.Status, got.Stats.StopReason)
	}

	snap := e.gov.Stats("linkedin.com")
	if snap.ConsecutiveRateLimits != 3 {
		t.Fatalf("consecutiveRateLimits = %d, want 3", snap.ConsecutiveRateLimits)
	}
	if snap.ExtendedBackoffUntil == nil {
		t.Fatal("extended backoff not set after three rate limits")
	}

	// The host is poisoned: admission is refused for roughly two hours.
	err := e.gov.Await(context.Background(), "linkedin.com")
	var blocked *pacing.BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("Await err = %v, want BlockedError", err)
	}
	if blocked.RetryAfter < 115*time.Minute || blocked.RetryAfter > 2*time.Hour {
		t.Fatalf("retryAfter = %s, want about 2h", blocked.RetryAfter)
	}
}

func TestRunExtractorUnavailable(t *testing.T) {
	failing := extract.CompleterFunc(func(context.Context, string, string) (string, error) {
		return "", errors.New("llm endpoint timeout")
	})
	e := newEnv(t, failing)
	c := &model.Campaign{
		ID: "c1", TenantID: "t1", Source: model.SourceSearchPosts,
		Status: model.StatusQueued, Query: model.Query{Roles: "engineer"}, MaxItems: 1,
	}
	e.driver.AddPage(BuildSearchURL(c.Query), fetchtest.FeedPage(
		fetchtest.SimpleCard("7777", "hiring senior engineer"),
	))

	got := e.createAndRun(t, c)
	if got.Status != model.StatusCompleted || got.Stats.StopReason != model.StopLimitReached {
		t.Fatalf("campaign ended (%s, %s), want (completed, limit_reached)", got.Status, got.Stats.StopReason)
	}

	leads, err := e.store.ListLeads(context.Background(), "t1", store.LeadFilter{})
	if err != nil || len(leads) != 1 {
		t.Fatalf("persisted %d leads (%v), want exactly 1", len(leads), err)
	}
	l := leads[0]
	if l.ProviderID != "7777" {
		t.Fatalf("providerId = %q, want 7777", l.ProviderID)
	}
	if l.EnrichmentStatus != model.EnrichmentPending || l.EnrichmentError == "" {
		t.Fatalf("enrichment = (%s, %q), want (pending, non-empty error)", l.EnrichmentStatus, l.EnrichmentError)
	}
	if l.RawMetadata.PostText != "hiring senior engineer" {
		t.Fatalf("rawMetadata.postText = %q, want the raw capture preserved", l.RawMetadata.PostText)
	}
	if !reflect.DeepEqual(l.Fields, model.LeadFields{}) {
		t.Fatalf("fields = %+v, want zero values on failed extraction", l.Fields)
	}
}

func TestRunDuplicateSkip(t *testing.T) {
	e := newEnv(t, okCompleter())
	query := model.Query{Roles: "platform engineer"}
	e.driver.AddPage(BuildSearchURL(query), fetchtest.FeedPage(
		fetchtest.SimpleCard("2001", "hiring platform engineer"),
	))

	first := e.createAndRun(t, &model.Campaign{
		ID: "c1", TenantID: "t1", Source: model.SourceSearchPosts,
		Status: model.StatusQueued, Query: query, MaxItems: 5,
	})
	second := e.createAndRun(t, &model.Campaign{
		ID: "c2", TenantID: "t1", Source: model.SourceSearchPosts,
		Status: model.StatusQueued, Query: query, MaxItems: 5,
	})

	if first.Status != model.StatusCompleted || second.Status != model.StatusCompleted {
		t.Fatalf("statuses = (%s, %s), want both completed", first.Status, second.Status)
	}
	if first.Stats.LeadsExtracted != 1 || second.Stats.LeadsExtracted != 0 {
		t.Fatalf("leadsExtracted = (%d, %d), want (1, 0)", first.Stats.LeadsExtracted, second.Stats.LeadsExtracted)
	}
	if second.Stats.Duplicates != 1 {
		t.Fatalf("second run duplicates = %d, want 1", second.Stats.Duplicates)
	}
	n, err := e.store.CountLeads(context.Background(), "t1", "")
	if err != nil || n != 1 {
		t.Fatalf("tenant lead count = (%d, %v), want exactly 1", n, err)
	}
}

func TestRunZeroLimitCompletesImmediately(t *testing.T) {
	e := newEnv(t, okCompleter())
	e.orch.opts.DefaultLimit = 0
	c := &model.Campaign{
		ID: "c1", TenantID: "t1", Source: model.SourceSearchPosts,
		Status: model.StatusQueued, Query: model.Query{Roles: "engineer"},
	}

	got := e.createAndRun(t, c)
	if got.Status != model.StatusCompleted || got.Stats.StopReason != model.StopLimitReached {
		t.Fatalf("campaign ended (%s, %s), want (completed, limit_reached)", got.Status, got.Stats.StopReason)
	}
	if n, _ := e.store.CountLeads(context.Background(), "t1", ""); n != 0 {
		t.Fatalf("lead count = %d, want 0 without any navigation", n)
	}
	// The browser was never launched.
	if len(e.driver.Launched()) != 0 {
		t.Fatalf("launched %d browser contexts, want 0", len(e.driver.Launched()))
	}
}

func TestRunUnauthenticated(t *testing.T) {
	e := newEnv(t, okCompleter())
	seed := "https://www.linkedin.com/in/u/recent-activity/all/"
	e.driver.AddPage(seed, &browsertest.PageScript{
		ResolvedURL: "https://www.linkedin.com/login",
		BodyText:    "Sign in",
	})
	c := &model.Campaign{
		ID: "c1", TenantID: "t1", Source: model.SourceSeedURLs,
		Status: model.StatusQueued, SeedURLs: []string{seed}, MaxItems: 5,
	}

	got := e.createAndRun(t, c)
	if got.Status != model.StatusFailed || got.Stats.StopReason != model.StopUnauthenticated {
		t.Fatalf("campaign ended (%s, %s), want (failed, unauthenticated)", got.Status, got.Stats.StopReason)
	}
}

func TestRunCancelledTransitionsToStopped(t *testing.T) {
	e := newEnv(t, okCompleter())
	c := &model.Campaign{
		ID: "c1", TenantID: "t1", Source: model.SourceSearchPosts,
		Status: model.StatusQueued, Query: model.Query{Roles: "engineer"}, MaxItems: 5,
	}
	e.driver.AddPage(BuildSearchURL(c.Query), fetchtest.FeedPage(
		fetchtest.SimpleCard("3001", "hiring"),
	))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := e.store.CreateCampaign(context.Background(), c); err != nil {
		t.Fatalf("CreateCampaign: %v", err)
	}
	if err := e.orch.Run(ctx, c); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, err := e.store.GetCampaign(context.Background(), "t1", "c1")
	if err != nil {
		t.Fatalf("GetCampaign: %v", err)
	}
	if got.Status != model.StatusStopped || got.Stats.StopReason != model.StopCancelled {
		t.Fatalf("campaign ended (%s, %s), want (stopped, cancelled)", got.Status, got.Stats.StopReason)
	}
}

// cancelAwareStore refuses campaign writes once the context is cancelled,
// matching the production store's behavior that the in-memory one skips.
type cancelAwareStore struct {
	store.Store
}

func (s cancelAwareStore) UpdateCampaign(ctx context.Context, c *model.Campaign) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.UpdateCampaign(ctx, c)
}

func TestRunCancelledTerminalWriteStillPersists(t *testing.T) {
	mem := memstore.New()
	driver := browsertest.NewDriver()
	gov := pacing.New(nil, nil, pacing.Options{
		MinSpacing:        time.Nanosecond,
		Jitter:            time.Nanosecond,
		BackoffCap:        10 * time.Nanosecond,
		Window:            time.Hour,
		WindowLimit:       1000,
		ExtendedThreshold: 3,
		ExtendedCooldown:  2 * time.Hour,
	})
	pool := proxypool.New(nil, nil, nil, proxypool.Options{})
	engine := fetch.New(nil, nil, driver, gov, pool, fetch.Options{Sleeper: &fetchtest.RecordingSleeper{}})

	ctx, cancel := context.WithCancel(context.Background())
	// The completer cancels the run mid-harvest, after the campaign was
	// already marked running.
	completer := extract.CompleterFunc(func(context.Context, string, string) (string, error) {
		cancel()
		return extractorResponse, nil
	})
	extractor := extract.New(nil, nil, completer, extract.Options{})
	orch := New(nil, nil, cancelAwareStore{mem}, engine, extractor, Options{DefaultLimit: 25})

	c := &model.Campaign{
		ID: "c1", TenantID: "t1", Source: model.SourceSearchPosts,
		Status: model.StatusQueued, Query: model.Query{Roles: "engineer"}, MaxItems: 5,
	}
	driver.AddPage(BuildSearchURL(c.Query), fetchtest.FeedPage(
		fetchtest.SimpleCard("3001", "hiring"),
		fetchtest.SimpleCard("3002", "hiring"),
	))
	if err := mem.CreateCampaign(context.Background(), c); err != nil {
		t.Fatalf("CreateCampaign: %v", err)
	}
	if err := orch.Run(ctx, c); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := mem.GetCampaign(context.Background(), "t1", "c1")
	if err != nil {
		t.Fatalf("GetCampaign: %v", err)
	}
	if got.Status != model.StatusStopped || got.Stats.StopReason != model.StopCancelled {
		t.Fatalf("campaign ended (%s, %s), want (stopped, cancelled) despite the cancelled context", got.Status, got.Stats.StopReason)
	}
}

func TestRunSeedCheckpointResume(t *testing.T) {
	e := newEnv(t, okCompleter())
	seeds := []string{
		"https://www.linkedin.com/in/done/recent-activity/all/",
		"https://www.linkedin.com/in/next/recent-activity/all/",
	}
	// Only the second seed is scripted: a resume from the checkpoint never
	// touches the first one.
	e.driver.AddPage(seeds[1], fetchtest.FeedPage(
		fetchtest.SimpleCard("4002", "hiring data engineers"),
	))
	c := &model.Campaign{
		ID: "c1", TenantID: "t1", Source: model.SourceSeedURLs,
		Status: model.StatusQueued, SeedURLs: seeds, MaxItems: 4,
		Checkpoint: &model.Checkpoint{LastSeedIndex: 0, TotalCollected: 1},
	}

	got := e.createAndRun(t, c)
	if got.Stats.Errors != 0 {
		t.Fatalf("errors = %d, want 0 (first seed must be skipped entirely)", got.Stats.Errors)
	}
	leads, err := e.store.ListLeads(context.Background(), "t1", store.LeadFilter{CampaignID: "c1"})
	if err != nil || len(leads) != 1 || leads[0].ProviderID != "4002" {
		t.Fatalf("leads = %v (%v), want only the second seed's card", leads, err)
	}
	if got.Checkpoint != nil {
		t.Fatal("checkpoint not cleared on terminal transition")
	}
}

func TestRunSingleSeedPost(t *testing.T) {
	e := newEnv(t, okCompleter())
	post := "https://www.linkedin.com/feed/update/urn:li:activity:5001/"
	e.driver.AddPage(post, fetchtest.FeedPage(
		fetchtest.SimpleCard("5001", "we are hiring an SRE"),
	))
	c := &model.Campaign{
		ID: "c1", TenantID: "t1", Source: model.SourceSeedURLs,
		Status: model.StatusQueued, SeedURLs: []string{post}, MaxItems: 1,
	}

	got := e.createAndRun(t, c)
	if got.Status != model.StatusCompleted || got.Stats.StopReason != model.StopLimitReached {
		t.Fatalf("campaign ended (%s, %s), want (completed, limit_reached)", got.Status, got.Stats.StopReason)
	}
	leads, _ := e.store.ListLeads(context.Background(), "t1", store.LeadFilter{})
	if len(leads) != 1 || leads[0].PostURL != post {
		t.Fatalf("leads = %v, want the single post with its canonical URL", leads)
	}
}

func TestRunSingleSeedPostBypassesKeywordFilter(t *testing.T) {
	e := newEnv(t, okCompleter())
	post := "https://www.linkedin.com/feed/update/urn:li:activity:5002/"
	// No hiring keyword anywhere: pasting the URL is already explicit intent.
	e.driver.AddPage(post, fetchtest.FeedPage(
		fetchtest.SimpleCard("5002", "our ML platform team just grew by three people"),
	))
	c := &model.Campaign{
		ID: "c1", TenantID: "t1", Source: model.SourceSeedURLs,
		Status: model.StatusQueued, SeedURLs: []string{post}, MaxItems: 1,
	}

	got := e.createAndRun(t, c)
	if got.Status != model.StatusCompleted || got.Stats.StopReason != model.StopLimitReached {
		t.Fatalf("campaign ended (%s, %s), want (completed, limit_reached)", got.Status, got.Stats.StopReason)
	}
	leads, _ := e.store.ListLeads(context.Background(), "t1", store.LeadFilter{CampaignID: "c1"})
	if len(leads) != 1 || leads[0].ProviderID != "5002" {
		t.Fatalf("leads = %v, want the keyword-free post persisted", leads)
	}
}

func TestReenrich(t *testing.T) {
	e := newEnv(t, okCompleter())
	ctx := context.Background()
	lead := &model.Lead{
		ID: "l1", TenantID: "t1", CampaignID: "c1", ProviderID: "6001",
		EnrichmentStatus: model.EnrichmentPending,
		RawMetadata:      model.RawPost{ProviderID: "6001", PostText: "hiring an ML engineer"},
	}
	if err := e.store.InsertLead(ctx, lead); err != nil {
		t.Fatalf("InsertLead: %v", err)
	}

	n, err := e.orch.Reenrich(ctx, "t1", "c1")
	if err != nil || n != 1 {
		t.Fatalf("Reenrich = (%d, %v), want (1, nil)", n, err)
	}
	leads, _ := e.store.ListLeads(ctx, "t1", store.LeadFilter{})
	if leads[0].EnrichmentStatus != model.EnrichmentEnriched || leads[0].Fields.Company != "Acme Corp" {
		t.Fatalf("lead after reenrich = %+v, want enriched fields", leads[0])
	}
}

func TestResetCampaign(t *testing.T) {
	e := newEnv(t, okCompleter())
	ctx := context.Background()
	c := &model.Campaign{
		ID: "c1", TenantID: "t1", Source: model.SourceSearchPosts,
		Status: model.StatusFailed, Progress: 40,
		Stats:      model.Stats{LeadsExtracted: 2, StopReason: model.StopRateLimited},
		Checkpoint: &model.Checkpoint{LastSeedIndex: 1},
	}
	if err := e.store.CreateCampaign(ctx, c); err != nil {
		t.Fatalf("CreateCampaign: %v", err)
	}

	if err := e.orch.ResetCampaign(ctx, "t1", "c1"); err != nil {
		t.Fatalf("ResetCampaign: %v", err)
	}
	got, _ := e.store.GetCampaign(ctx, "t1", "c1")
	if got.Status != model.StatusQueued || got.Progress != 0 || got.Checkpoint != nil {
		t.Fatalf("campaign after reset = %+v, want queued with cleared state", got)
	}
	if got.Stats != (model.Stats{}) {
		t.Fatalf("stats after reset = %+v, want zero", got.Stats)
	}

	// A running campaign cannot be reset.
	running := &model.Campaign{ID: "c2", TenantID: "t1", Status: model.StatusRunning}
	if err := e.store.CreateCampaign(ctx, running); err != nil {
		t.Fatalf("CreateCampaign: %v", err)
	}
	if err := e.orch.ResetCampaign(ctx, "t1", "c2"); err == nil {
		t.Fatal("ResetCampaign succeeded on a running campaign, want error")
	}
}
