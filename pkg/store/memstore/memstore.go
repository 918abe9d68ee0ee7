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

// Package memstore implements the store capability in memory. It carries the
// same uniqueness semantics as the Mongo implementation and backs tests and
// local one-shot runs.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hiresignal/leadgen-engine/pkg/model"
	"github.com/hiresignal/leadgen-engine/pkg/store"
)

type leadKey struct{ tenantID, providerID string }
type companyKey struct{ tenantID, linkedInURL string }

// Store is an in-memory store.Store. Safe for concurrent use.
type Store struct {
	mtx        sync.Mutex
	campaigns  map[string]*model.Campaign
	leads      map[string]*model.Lead
	leadKeys   map[leadKey]string
	companies  map[string]*model.Company
	companyIdx map[companyKey]string
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		campaigns:  map[string]*model.Campaign{},
		leads:      map[string]*model.Lead{},
		leadKeys:   map[leadKey]string{},
		companies:  map[string]*model.Company{},
		companyIdx: map[companyKey]string{},
	}
}

func (s *Store) CreateCampaign(_ context.Context, c *model.Campaign) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if _, ok := s.campaigns[c.ID]; ok {
		return store.ErrDuplicate
	}
	cp := *c
	s.campaigns[c.ID] = &cp
	return nil
}

func (s *Store) GetCampaign(_ context.Context, tenantID, id string) (*model.Campaign, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	c, ok := s.campaigns[id]
	if !ok || c.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	cp := *c
	cp.Status = model.NormalizeStatus(cp.Status)
	return &cp, nil
}

func (s *Store) ClaimQueuedCampaign(_ context.Context) (*model.Campaign, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	var oldest *model.Campaign
	for _, c := range s.campaigns {
		if c.Status != model.StatusQueued {
			continue
		}
		if oldest == nil || c.CreatedAt.Before(oldest.CreatedAt) {
			oldest = c
		}
	}
	if oldest == nil {
		return nil, nil
	}
	oldest.Status = model.StatusRunning
	oldest.UpdatedAt = time.Now()
	cp := *oldest
	return &cp, nil
}

func (s *Store) UpdateCampaign(_ context.Context, c *model.Campaign) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if _, ok := s.campaigns[c.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *c
	s.campaigns[c.ID] = &cp
	return nil
}

func (s *Store) InsertLead(_ context.Context, l *model.Lead) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	key := leadKey{l.TenantID, l.ProviderID}
	if _, ok := s.leadKeys[key]; ok {
		return store.ErrDuplicate
	}
	cp := *l
	s.leads[l.ID] = &cp
	s.leadKeys[key] = l.ID
	return nil
}

func (s *Store) UpdateLeadEnrichment(_ context.Context, tenantID, leadID string, fields model.LeadFields, status model.EnrichmentStatus, enrichErr string, at time.Time) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	l, ok := s.leads[leadID]
	if !ok || l.TenantID != tenantID {
		return store.ErrNotFound
	}
	l.Fields = fields
	l.EnrichmentStatus = status
	l.EnrichmentError = enrichErr
	l.LastEnrichmentAttempt = &at
	return nil
}

func (s *Store) ListLeads(_ context.Context, tenantID string, f store.LeadFilter) ([]model.Lead, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	var out []model.Lead
	for _, l := range s.leads {
		if l.TenantID != tenantID {
			continue
		}
		if f.CampaignID != "" && l.CampaignID != f.CampaignID {
			continue
		}
		if len(f.EnrichmentIn) > 0 && !statusIn(l.EnrichmentStatus, f.EnrichmentIn) {
			continue
		}
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if f.Skip > 0 {
		if f.Skip >= int64(len(out)) {
			return nil, nil
		}
		out = out[f.Skip:]
	}
	if f.Limit > 0 && int64(len(out)) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) CountLeads(ctx context.Context, tenantID, campaignID string) (int64, error) {
	leads, err := s.ListLeads(ctx, tenantID, store.LeadFilter{CampaignID: campaignID})
	if err != nil {
		return 0, err
	}
	return int64(len(leads)), nil
}

func (s *Store) InsertCompany(_ context.Context, c *model.Company) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	key := companyKey{c.TenantID, c.LinkedInURL}
	if _, ok := s.companyIdx[key]; ok {
		return store.ErrDuplicate
	}
	cp := *c
	s.companies[c.ID] = &cp
	s.companyIdx[key] = c.ID
	return nil
}

// Companies returns the tenant's directory records, insertion order not
// guaranteed. Test helper, not part of store.Store.
func (s *Store) Companies(tenantID string) []model.Company {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	var out []model.Company
	for _, c := range s.companies {
		if c.TenantID == tenantID {
			out = append(out, *c)
		}
	}
	return out
}

func (s *Store) Close(context.Context) error { return nil }

func statusIn(status model.EnrichmentStatus, in []model.EnrichmentStatus) bool {
	for _, s := range in {
		if s == status {
			return true
		}
	}
	return false
}
