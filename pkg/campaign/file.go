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
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/hiresignal/leadgen-engine/pkg/model"
)

// campaignFile is the YAML layout accepted by LoadFile.
type campaignFile struct {
	Campaigns []model.Campaign `yaml:"campaigns"`
}

// LoadFile reads campaign definitions from a YAML file for one-shot runs.
// Missing IDs are generated, missing statuses default to queued.
func LoadFile(path string) ([]model.Campaign, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading campaign file")
	}
	var f campaignFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, errors.Wrapf(err, "parsing campaign file %s", path)
	}
	if len(f.Campaigns) == 0 {
		return nil, errors.Errorf("campaign file %s defines no campaigns", path)
	}

	now := time.Now().UTC()
	for i := range f.Campaigns {
		c := &f.Campaigns[i]
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.Status == "" {
			c.Status = model.StatusQueued
		}
		if c.TenantID == "" {
			return nil, errors.Errorf("campaign %q has no tenantId", c.Name)
		}
		if c.Source == "" {
			return nil, errors.Errorf("campaign %q has no source", c.Name)
		}
		c.CreatedAt = now
		c.UpdatedAt = now
	}
	return f.Campaigns, nil
}
