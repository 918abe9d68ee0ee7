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

// Package model holds the persisted entities shared by the fetch, extraction
// and orchestration layers.
package model

import (
	"time"
)

// Source identifies how a campaign discovers posts.
type Source string

// Valid campaign sources.
const (
	SourceSearchPosts      Source = "search-posts"
	SourceSeedURLs         Source = "seed-urls"
	SourceCompanyDirectory Source = "company-directory"
)

// Status is the lifecycle state of a campaign.
type Status string

// Valid campaign statuses. Only the orchestrator transitions between them.
const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// NormalizeStatus maps legacy status values found in older documents onto the
// canonical set. Documents written by earlier releases used "done" in place
// of "completed".
func NormalizeStatus(s Status) Status {
	if s == "done" {
		return StatusCompleted
	}
	return s
}

// Terminal reports whether a campaign in status s may no longer be mutated
// except through an explicit reset.
func (s Status) Terminal() bool {
	switch NormalizeStatus(s) {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	}
	return false
}

// StopReason records why a campaign reached a terminal status.
type StopReason string

// Valid stop reasons.
const (
	StopLimitReached    StopReason = "limit_reached"
	StopExhausted       StopReason = "exhausted"
	StopRateLimited     StopReason = "rate_limit_detected"
	StopUnauthenticated StopReason = "unauthenticated"
	StopFatal           StopReason = "fatal"
	StopCancelled       StopReason = "cancelled"
)

// EnrichmentStatus tracks the outcome of the LLM field extraction for a lead.
type EnrichmentStatus string

// Valid enrichment statuses.
const (
	EnrichmentPending  EnrichmentStatus = "pending"
	EnrichmentEnriched EnrichmentStatus = "enriched"
	EnrichmentFailed   EnrichmentStatus = "failed"
	EnrichmentSkipped  EnrichmentStatus = "skipped"
)

// Query describes the search facets for a search-posts campaign.
type Query struct {
	Mode             string   `bson:"mode,omitempty" json:"mode,omitempty" yaml:"mode,omitempty"`
	Roles            string   `bson:"roles,omitempty" json:"roles,omitempty" yaml:"roles,omitempty"`
	Period           string   `bson:"period,omitempty" json:"period,omitempty" yaml:"period,omitempty"`
	Location         string   `bson:"location,omitempty" json:"location,omitempty" yaml:"location,omitempty"`
	ContentType      string   `bson:"contentType,omitempty" json:"contentType,omitempty" yaml:"contentType,omitempty"`
	Sort             string   `bson:"sort,omitempty" json:"sort,omitempty" yaml:"sort,omitempty"`
	Language         string   `bson:"language,omitempty" json:"language,omitempty" yaml:"language,omitempty"`
	ConnectionDegree string   `bson:"connectionDegree,omitempty" json:"connectionDegree,omitempty" yaml:"connectionDegree,omitempty"`
	Industries       []string `bson:"industries,omitempty" json:"industries,omitempty" yaml:"industries,omitempty"`
	CompanySizes     []string `bson:"companySizes,omitempty" json:"companySizes,omitempty" yaml:"companySizes,omitempty"`
	KeywordScope     string   `bson:"keywordScope,omitempty" json:"keywordScope,omitempty" yaml:"keywordScope,omitempty"`
	Summary          string   `bson:"summary,omitempty" json:"summary,omitempty" yaml:"summary,omitempty"`
	Limit            int      `bson:"limit,omitempty" json:"limit,omitempty" yaml:"limit,omitempty"`
}

// Stats aggregates per-campaign processing counters. Errors counts transient
// failures only; rate-limit and authentication terminations are reflected in
// StopReason instead.
type Stats struct {
	PostsProcessed int        `bson:"postsProcessed" json:"postsProcessed"`
	LeadsExtracted int        `bson:"leadsExtracted" json:"leadsExtracted"`
	Duplicates     int        `bson:"duplicates" json:"duplicates"`
	Errors         int        `bson:"errors" json:"errors"`
	StopReason     StopReason `bson:"stopReason,omitempty" json:"stopReason,omitempty"`
	StartedAt      *time.Time `bson:"startedAt,omitempty" json:"startedAt,omitempty"`
	FinishedAt     *time.Time `bson:"finishedAt,omitempty" json:"finishedAt,omitempty"`
}

// Checkpoint is the minimal restart marker written between seed URLs and
// directory pages. It is cleared on terminal transition.
type Checkpoint struct {
	LastSeedIndex  int `bson:"lastSeedIndex" json:"lastSeedIndex"`
	LastPage       int `bson:"lastPage" json:"lastPage"`
	TotalCollected int `bson:"totalCollected" json:"totalCollected"`
}

// Campaign is a unit of lead-generation work owned by a tenant.
type Campaign struct {
	ID          string      `bson:"_id" json:"id" yaml:"id"`
	TenantID    string      `bson:"tenantId" json:"tenantId" yaml:"tenantId"`
	Name        string      `bson:"name" json:"name" yaml:"name"`
	Description string      `bson:"description,omitempty" json:"description,omitempty" yaml:"description,omitempty"`
	Source      Source      `bson:"source" json:"source" yaml:"source"`
	SeedURLs    []string    `bson:"seedUrls,omitempty" json:"seedUrls,omitempty" yaml:"seedUrls,omitempty"`
	Query       Query       `bson:"query" json:"query" yaml:"query"`
	Status      Status      `bson:"status" json:"status" yaml:"status"`
	Progress    int         `bson:"progress" json:"progress"`
	Stats       Stats       `bson:"stats" json:"stats"`
	MaxItems    int         `bson:"maxItems" json:"maxItems" yaml:"maxItems"`
	Checkpoint  *Checkpoint `bson:"checkpoint,omitempty" json:"checkpoint,omitempty"`
	CreatedAt   time.Time   `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time   `bson:"updatedAt" json:"updatedAt"`
}

// EffectiveLimit returns the lead cap for the campaign, preferring the
// explicit cap, then the query limit, then the given default.
func (c *Campaign) EffectiveLimit(def int) int {
	if c.MaxItems > 0 {
		return c.MaxItems
	}
	if c.Query.Limit > 0 {
		return c.Query.Limit
	}
	return def
}

// RawPost is the untransformed capture of a single post card. It is persisted
// verbatim on the lead so enrichment can be retried later without refetching.
type RawPost struct {
	ProviderID       string     `bson:"providerId" json:"providerId"`
	AuthorName       string     `bson:"authorName" json:"authorName"`
	AuthorHeadline   string     `bson:"authorHeadline" json:"authorHeadline"`
	AuthorProfileURL string     `bson:"authorProfileUrl" json:"authorProfileUrl"`
	PostURL          string     `bson:"postUrl" json:"postUrl"`
	PostTitle        string     `bson:"postTitle" json:"postTitle"`
	PostText         string     `bson:"postText" json:"postText"`
	CompanyURL       string     `bson:"companyUrl" json:"companyUrl"`
	PostedAt         *time.Time `bson:"postedAt,omitempty" json:"postedAt,omitempty"`
}

// LeadFields are the structured fields produced by the extractor.
type LeadFields struct {
	Company         string   `bson:"company" json:"company"`
	CompanyURL      string   `bson:"companyUrl" json:"companyUrl"`
	CompanyIndustry string   `bson:"companyIndustry" json:"companyIndustry"`
	JobTitles       []string `bson:"jobTitles" json:"jobTitles"`
	Locations       []string `bson:"locations" json:"locations"`
	Seniority       string   `bson:"seniority" json:"seniority"`
	Skills          []string `bson:"skills" json:"skills"`
	SalaryRange     string   `bson:"salaryRange" json:"salaryRange"`
	WorkMode        string   `bson:"workMode" json:"workMode"`
	ApplicationLink string   `bson:"applicationLink" json:"applicationLink"`
}

// Lead is an extracted hiring post. (TenantID, ProviderID) is unique per
// store; re-observations of the same activity are skipped, re-extraction
// updates enrichment fields only.
type Lead struct {
	ID                    string           `bson:"_id" json:"id"`
	TenantID              string           `bson:"tenantId" json:"tenantId"`
	CampaignID            string           `bson:"campaignId" json:"campaignId"`
	ProviderID            string           `bson:"providerId" json:"providerId"`
	AuthorName            string           `bson:"authorName" json:"authorName"`
	AuthorHeadline        string           `bson:"authorHeadline" json:"authorHeadline"`
	AuthorProfileURL      string           `bson:"authorProfileUrl" json:"authorProfileUrl"`
	PostURL               string           `bson:"postUrl" json:"postUrl"`
	PostTitle             string           `bson:"postTitle" json:"postTitle"`
	PostText              string           `bson:"postText" json:"postText"`
	PostedAt              *time.Time       `bson:"postedAt,omitempty" json:"postedAt,omitempty"`
	Fields                LeadFields       `bson:"fields" json:"fields"`
	RawMetadata           RawPost          `bson:"rawMetadata" json:"rawMetadata"`
	EnrichmentStatus      EnrichmentStatus `bson:"enrichmentStatus" json:"enrichmentStatus"`
	EnrichmentError       string           `bson:"enrichmentError,omitempty" json:"enrichmentError,omitempty"`
	LastEnrichmentAttempt *time.Time       `bson:"lastEnrichmentAttempt,omitempty" json:"lastEnrichmentAttempt,omitempty"`
	CreatedAt             time.Time        `bson:"createdAt" json:"createdAt"`
}

// Company is a directory-mode record. (TenantID, LinkedInURL) is unique per
// store.
type Company struct {
	ID            string    `bson:"_id" json:"id"`
	TenantID      string    `bson:"tenantId" json:"tenantId"`
	CampaignID    string    `bson:"campaignId" json:"campaignId"`
	LinkedInURL   string    `bson:"linkedInUrl" json:"linkedInUrl"`
	Name          string    `bson:"name" json:"name"`
	Tagline       string    `bson:"tagline" json:"tagline"`
	Industry      string    `bson:"industry" json:"industry"`
	CompanySize   string    `bson:"companySize" json:"companySize"`
	Headquarters  string    `bson:"headquarters" json:"headquarters"`
	Founded       string    `bson:"founded" json:"founded"`
	Website       string    `bson:"website" json:"website"`
	Specialties   []string  `bson:"specialties" json:"specialties"`
	FollowerCount string    `bson:"followerCount" json:"followerCount"`
	Logo          string    `bson:"logo" json:"logo"`
	CreatedAt     time.Time `bson:"createdAt" json:"createdAt"`
}
