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

// Package store defines the document-store capability consumed by the
// orchestrator. Uniqueness is enforced by the store, not by callers: lead
// identity is (tenantId, providerId), company identity is
// (tenantId, linkedInUrl).
package store

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/hiresignal/leadgen-engine/pkg/model"
)

// ErrDuplicate is returned by inserts that violate a uniqueness key. It is an
// expected outcome, counted rather than logged as a failure.
var ErrDuplicate = errors.New("document already exists")

// ErrNotFound is returned by lookups of absent documents.
var ErrNotFound = errors.New("document not found")

// LeadFilter narrows lead listings. Zero values match everything within the
// tenant.
type LeadFilter struct {
	CampaignID   string
	EnrichmentIn []model.EnrichmentStatus
	Skip         int64
	Limit        int64
}

// Store is the persistence surface for campaigns, leads and companies.
type Store interface {
	CreateCampaign(ctx context.Context, c *model.Campaign) error
	// GetCampaign normalizes legacy status values on read.
	GetCampaign(ctx context.Context, tenantID, id string) (*model.Campaign, error)
	// ClaimQueuedCampaign atomically transitions the oldest queued campaign
	// to running and returns it, or (nil, nil) when none is queued.
	ClaimQueuedCampaign(ctx context.Context) (*model.Campaign, error)
	UpdateCampaign(ctx context.Context, c *model.Campaign) error

	// InsertLead returns ErrDuplicate when (tenantId, providerId) exists.
	InsertLead(ctx context.Context, l *model.Lead) error
	// UpdateLeadEnrichment replaces only the enrichment outcome of a lead.
	UpdateLeadEnrichment(ctx context.Context, tenantID, leadID string, fields model.LeadFields, status model.EnrichmentStatus, enrichErr string, at time.Time) error
	ListLeads(ctx context.Context, tenantID string, f LeadFilter) ([]model.Lead, error)
	CountLeads(ctx context.Context, tenantID, campaignID string) (int64, error)

	// InsertCompany returns ErrDuplicate when (tenantId, linkedInUrl) exists.
	InsertCompany(ctx context.Context, c *model.Company) error

	Close(ctx context.Context) error
}
