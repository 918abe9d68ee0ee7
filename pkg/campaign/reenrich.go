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

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/hiresignal/leadgen-engine/pkg/model"
	"github.com/hiresignal/leadgen-engine/pkg/store"
)

// Reenrich re-runs the extractor over leads whose enrichment is pending or
// failed, using the preserved raw capture. No refetching happens; only the
// enrichment fields of each lead are updated. It returns the number of leads
// that became enriched.
func (o *Orchestrator) Reenrich(ctx context.Context, tenantID, campaignID string) (int, error) {
	leads, err := o.store.ListLeads(ctx, tenantID, store.LeadFilter{
		CampaignID:   campaignID,
		EnrichmentIn: []model.EnrichmentStatus{model.EnrichmentPending, model.EnrichmentFailed},
	})
	if err != nil {
		return 0, errors.Wrap(err, "listing re-extractable leads")
	}

	enriched := 0
	for _, lead := range leads {
		if err := ctx.Err(); err != nil {
			return enriched, err
		}
		at := o.now().UTC()
		fields, xerr := o.extractor.Extract(ctx, lead.RawMetadata)
		status := model.EnrichmentEnriched
		enrichErr := ""
		if xerr != nil {
			status = model.EnrichmentFailed
			enrichErr = xerr.Error()
			fields = model.LeadFields{}
		}
		if uerr := o.store.UpdateLeadEnrichment(ctx, tenantID, lead.ID, fields, status, enrichErr, at); uerr != nil {
			level.Warn(o.logger).Log("msg", "updating lead enrichment", "lead", lead.ID, "err", uerr)
			continue
		}
		if xerr == nil {
			enriched++
		}
	}
	level.Info(o.logger).Log("msg", "re-enrichment pass done", "tenant", tenantID,
		"campaign", campaignID, "candidates", len(leads), "enriched", enriched)
	return enriched, nil
}
