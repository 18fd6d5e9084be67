// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package archive is the optional persistent sink: completed request
// entries written to MongoDB with TTL expiry, queried by the /debug
// history and analytics endpoints.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/AleutianAI/AleutianRelay/services/gateway/config"
	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
)

// RedactedSentinel replaces a captured body when its privacy flag is off.
// Enforced at write time: the document holds either the text or the
// sentinel, never both.
const RedactedSentinel = "[not stored]"

// insertTimeout bounds one asynchronous write.
const insertTimeout = 5 * time.Second

// trimEvery is the insert cadence for enforcing MaxDocuments.
const trimEvery = 256

// Archive writes and queries the persistent sink.
type Archive struct {
	client  *mongo.Client
	col     *mongo.Collection
	cfg     config.ArchiveConfig
	inserts atomic.Int64
}

// New connects to the configured deployment and ensures indexes. The
// caller should treat a connection failure as "archive disabled", not
// fatal.
func New(ctx context.Context, cfg config.ArchiveConfig) (*Archive, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to archive: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("archive ping failed: %w", err)
	}

	a := &Archive{
		client: client,
		col:    client.Database(cfg.Database).Collection(cfg.Collection),
		cfg:    cfg,
	}
	if err := a.ensureIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}
	return a, nil
}

// ensureIndexes creates the TTL index on timestamp plus the secondary
// lookup indexes. Creation is idempotent.
func (a *Archive) ensureIndexes(ctx context.Context) error {
	ttlSeconds := int32(a.cfg.RetentionDays) * 86400
	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "timestamp", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(ttlSeconds),
		},
		{Keys: bson.D{{Key: "backend", Value: 1}}},
		{Keys: bson.D{{Key: "userId", Value: 1}}},
		{Keys: bson.D{{Key: "id", Value: 1}}},
	}
	if _, err := a.col.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("failed to create archive indexes: %w", err)
	}
	return nil
}

// Store writes one entry asynchronously; failures log and drop. Privacy
// flags apply here, before the document leaves the process.
func (a *Archive) Store(entry datatypes.LogEntry) {
	if !a.cfg.StoreQueries {
		entry.RequestBody = RedactedSentinel
	}
	if !a.cfg.StoreResponses {
		entry.ResponseBody = RedactedSentinel
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
		defer cancel()
		if _, err := a.col.InsertOne(ctx, entry); err != nil {
			slog.Warn("Archive insert failed", "request_id", entry.ID, "error", err)
			return
		}
		if a.cfg.MaxDocuments > 0 && a.inserts.Add(1)%trimEvery == 0 {
			a.trim(ctx)
		}
	}()
}

// trim deletes the oldest documents beyond MaxDocuments.
func (a *Archive) trim(ctx context.Context) {
	count, err := a.col.CountDocuments(ctx, bson.D{})
	if err != nil || count <= a.cfg.MaxDocuments {
		return
	}

	// Find the cutoff timestamp and delete everything older.
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetSkip(a.cfg.MaxDocuments).
		SetLimit(1).
		SetProjection(bson.D{{Key: "timestamp", Value: 1}})
	cursor, err := a.col.Find(ctx, bson.D{}, opts)
	if err != nil {
		return
	}
	var docs []struct {
		Timestamp time.Time `bson:"timestamp"`
	}
	if err := cursor.All(ctx, &docs); err != nil || len(docs) == 0 {
		return
	}
	if _, err := a.col.DeleteMany(ctx, bson.D{
		{Key: "timestamp", Value: bson.D{{Key: "$lte", Value: docs[0].Timestamp}}},
	}); err != nil {
		slog.Warn("Archive trim failed", "error", err)
	}
}

// Close disconnects from the deployment.
func (a *Archive) Close(ctx context.Context) error {
	return a.client.Disconnect(ctx)
}

// =============================================================================
// Queries
// =============================================================================

// HistoryFilter narrows a History call. Zero values match everything.
type HistoryFilter struct {
	Limit   int64
	Backend string
	UserID  string
}

// History returns archived entries newest-first.
func (a *Archive) History(ctx context.Context, f HistoryFilter) ([]datatypes.LogEntry, error) {
	filter := bson.D{}
	if f.Backend != "" {
		filter = append(filter, bson.E{Key: "backend", Value: f.Backend})
	}
	if f.UserID != "" {
		filter = append(filter, bson.E{Key: "userId", Value: f.UserID})
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(limit)
	cursor, err := a.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("archive history query failed: %w", err)
	}
	var out []datatypes.LogEntry
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("archive history decode failed: %w", err)
	}
	return out, nil
}

// FindByID returns the archived entry with the given request id.
func (a *Archive) FindByID(ctx context.Context, id string) (datatypes.LogEntry, error) {
	var entry datatypes.LogEntry
	err := a.col.FindOne(ctx, bson.D{{Key: "id", Value: id}}).Decode(&entry)
	if err == mongo.ErrNoDocuments {
		return entry, fmt.Errorf("no archived entry for id %s", id)
	}
	if err != nil {
		return entry, fmt.Errorf("archive lookup failed: %w", err)
	}
	return entry, nil
}

// Analytics summarizes archived traffic over the trailing window.
type Analytics struct {
	Days          int              `json:"days"`
	TotalRequests int64            `json:"total_requests"`
	TotalErrors   int64            `json:"total_errors"`
	AvgLatencyMs  float64          `json:"avg_latency_ms"`
	InputTokens   int64            `json:"input_tokens"`
	OutputTokens  int64            `json:"output_tokens"`
	ByBackend     map[string]int64 `json:"by_backend"`
	ByCategory    map[string]int64 `json:"by_category"`
}

// Summarize aggregates the last days of traffic.
func (a *Archive) Summarize(ctx context.Context, days int) (Analytics, error) {
	if days <= 0 {
		days = 7
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	match := bson.D{{Key: "$match", Value: bson.D{
		{Key: "timestamp", Value: bson.D{{Key: "$gte", Value: since}}},
	}}}

	out := Analytics{
		Days:       days,
		ByBackend:  make(map[string]int64),
		ByCategory: make(map[string]int64),
	}

	// Overall totals.
	totals := mongo.Pipeline{match, bson.D{{Key: "$group", Value: bson.D{
		{Key: "_id", Value: nil},
		{Key: "requests", Value: bson.D{{Key: "$sum", Value: 1}}},
		{Key: "errors", Value: bson.D{{Key: "$sum", Value: bson.D{
			{Key: "$cond", Value: bson.A{
				bson.D{{Key: "$ne", Value: bson.A{"$error", ""}}}, 1, 0,
			}},
		}}}},
		{Key: "avgLatency", Value: bson.D{{Key: "$avg", Value: "$latencyMs"}}},
		{Key: "inputTokens", Value: bson.D{{Key: "$sum", Value: "$inputTokens"}}},
		{Key: "outputTokens", Value: bson.D{{Key: "$sum", Value: "$outputTokens"}}},
	}}}}
	cursor, err := a.col.Aggregate(ctx, totals)
	if err != nil {
		return out, fmt.Errorf("archive analytics failed: %w", err)
	}
	var totalRows []struct {
		Requests     int64   `bson:"requests"`
		Errors       int64   `bson:"errors"`
		AvgLatency   float64 `bson:"avgLatency"`
		InputTokens  int64   `bson:"inputTokens"`
		OutputTokens int64   `bson:"outputTokens"`
	}
	if err := cursor.All(ctx, &totalRows); err != nil {
		return out, fmt.Errorf("archive analytics decode failed: %w", err)
	}
	if len(totalRows) > 0 {
		out.TotalRequests = totalRows[0].Requests
		out.TotalErrors = totalRows[0].Errors
		out.AvgLatencyMs = totalRows[0].AvgLatency
		out.InputTokens = totalRows[0].InputTokens
		out.OutputTokens = totalRows[0].OutputTokens
	}

	if out.ByBackend, err = a.countBy(ctx, match, "$backend"); err != nil {
		return out, err
	}
	if out.ByCategory, err = a.countBy(ctx, match, "$category"); err != nil {
		return out, err
	}
	return out, nil
}

// countBy groups matched documents on one field.
func (a *Archive) countBy(ctx context.Context, match bson.D, field string) (map[string]int64, error) {
	pipeline := mongo.Pipeline{match, bson.D{{Key: "$group", Value: bson.D{
		{Key: "_id", Value: field},
		{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
	}}}}
	cursor, err := a.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("archive group on %s failed: %w", field, err)
	}
	var rows []struct {
		ID    string `bson:"_id"`
		Count int64  `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("archive group decode failed: %w", err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		key := r.ID
		if key == "" {
			key = "unknown"
		}
		out[key] = r.Count
	}
	return out, nil
}
