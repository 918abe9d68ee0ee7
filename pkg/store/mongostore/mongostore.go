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

// Package mongostore implements the store capability on MongoDB. Uniqueness
// keys are enforced by indexes created at startup; duplicate-key writes map
// to store.ErrDuplicate.
package mongostore

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hiresignal/leadgen-engine/pkg/model"
	"github.com/hiresignal/leadgen-engine/pkg/store"
)

const opTimeout = 10 * time.Second

const (
	collCampaigns = "campaigns"
	collLeads     = "leads"
	collCompanies = "companies"
)

// Store is a MongoDB-backed store.Store.
type Store struct {
	logger log.Logger
	client *mongo.Client
	db     *mongo.Database
}

// Open connects to the given URI, verifies connectivity and creates the
// uniqueness indexes.
func Open(ctx context.Context, logger log.Logger, uri, database string) (*Store, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "connecting to mongodb")
	}
	pctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := client.Ping(pctx, nil); err != nil {
		return nil, errors.Wrap(err, "pinging mongodb")
	}
	s := &Store{logger: logger, client: client, db: client.Database(database)}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	level.Info(logger).Log("msg", "connected to mongodb", "database", database)
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	ictx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := s.db.Collection(collLeads).Indexes().CreateOne(ictx, mongo.IndexModel{
		Keys:    bson.D{{Key: "tenantId", Value: 1}, {Key: "providerId", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("tenant_provider"),
	})
	if err != nil {
		return errors.Wrap(err, "creating lead uniqueness index")
	}
	_, err = s.db.Collection(collCompanies).Indexes().CreateOne(ictx, mongo.IndexModel{
		Keys:    bson.D{{Key: "tenantId", Value: 1}, {Key: "linkedInUrl", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("tenant_company_url"),
	})
	if err != nil {
		return errors.Wrap(err, "creating company uniqueness index")
	}
	_, err = s.db.Collection(collCampaigns).Indexes().CreateOne(ictx, mongo.IndexModel{
		Keys:    bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}},
		Options: options.Index().SetName("status_created"),
	})
	return errors.Wrap(err, "creating campaign claim index")
}

func (s *Store) CreateCampaign(ctx context.Context, c *model.Campaign) error {
	wctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	_, err := s.db.Collection(collCampaigns).InsertOne(wctx, c)
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrDuplicate
	}
	return errors.Wrap(err, "inserting campaign")
}

func (s *Store) GetCampaign(ctx context.Context, tenantID, id string) (*model.Campaign, error) {
	rctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	var c model.Campaign
	err := s.db.Collection(collCampaigns).FindOne(rctx, bson.M{"_id": id, "tenantId": tenantID}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "finding campaign")
	}
	c.Status = model.NormalizeStatus(c.Status)
	return &c, nil
}

func (s *Store) ClaimQueuedCampaign(ctx context.Context) (*model.Campaign, error) {
	wctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "createdAt", Value: 1}}).
		SetReturnDocument(options.After)
	var c model.Campaign
	err := s.db.Collection(collCampaigns).FindOneAndUpdate(wctx,
		bson.M{"status": model.StatusQueued},
		bson.M{"$set": bson.M{"status": model.StatusRunning, "updatedAt": time.Now().UTC()}},
		opts,
	).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "claiming queued campaign")
	}
	return &c, nil
}

func (s *Store) UpdateCampaign(ctx context.Context, c *model.Campaign) error {
	wctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	res, err := s.db.Collection(collCampaigns).ReplaceOne(wctx, bson.M{"_id": c.ID}, c)
	if err != nil {
		return errors.Wrap(err, "updating campaign")
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) InsertLead(ctx context.Context, l *model.Lead) error {
	wctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	_, err := s.db.Collection(collLeads).InsertOne(wctx, l)
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrDuplicate
	}
	return errors.Wrap(err, "inserting lead")
}

func (s *Store) UpdateLeadEnrichment(ctx context.Context, tenantID, leadID string, fields model.LeadFields, status model.EnrichmentStatus, enrichErr string, at time.Time) error {
	wctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	res, err := s.db.Collection(collLeads).UpdateOne(wctx,
		bson.M{"_id": leadID, "tenantId": tenantID},
		bson.M{"$set": bson.M{
			"fields":                fields,
			"enrichmentStatus":      status,
			"enrichmentError":       enrichErr,
			"lastEnrichmentAttempt": at,
		}},
	)
	if err != nil {
		return errors.Wrap(err, "updating lead enrichment")
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListLeads(ctx context.Context, tenantID string, f store.LeadFilter) ([]model.Lead, error) {
	rctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	filter := bson.M{"tenantId": tenantID}
	if f.CampaignID != "" {
		filter["campaignId"] = f.CampaignID
	}
	if len(f.EnrichmentIn) > 0 {
		filter["enrichmentStatus"] = bson.M{"$in": f.EnrichmentIn}
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	if f.Skip > 0 {
		opts.SetSkip(f.Skip)
	}
	if f.Limit > 0 {
		opts.SetLimit(f.Limit)
	}
	cur, err := s.db.Collection(collLeads).Find(rctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "listing leads")
	}
	defer cur.Close(rctx)
	var out []model.Lead
	if err := cur.All(rctx, &out); err != nil {
		return nil, errors.Wrap(err, "decoding leads")
	}
	return out, nil
}

func (s *Store) CountLeads(ctx context.Context, tenantID, campaignID string) (int64, error) {
	rctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	filter := bson.M{"tenantId": tenantID}
	if campaignID != "" {
		filter["campaignId"] = campaignID
	}
	n, err := s.db.Collection(collLeads).CountDocuments(rctx, filter)
	return n, errors.Wrap(err, "counting leads")
}

func (s *Store) InsertCompany(ctx context.Context, c *model.Company) error {
	wctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	_, err := s.db.Collection(collCompanies).InsertOne(wctx, c)
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrDuplicate
	}
	return errors.Wrap(err, "inserting company")
}

func (s *Store) Close(ctx context.Context) error {
	dctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return errors.Wrap(s.client.Disconnect(dctx), "disconnecting from mongodb")
}
