/*
 * Copyright 2024 The Collabd Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package mongo implements the database interface using MongoDB.
package mongo

import (
	"context"
	"fmt"
	gotime "time"

	"github.com/rs/xid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/collabd-team/collabd/server/backend/database"
	"github.com/collabd-team/collabd/server/logging"
)

// Client is a client that connects to Mongo DB and reads or saves Collabd data.
type Client struct {
	config *Config
	client *mongo.Client
}

// Dial creates an instance of Client and dials the given MongoDB.
func Dial(conf *Config) (*Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), conf.ParseConnectionTimeout())
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(conf.ConnectionURI))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}

	ctxPing, cancel := context.WithTimeout(ctx, conf.ParsePingTimeout())
	defer cancel()

	if err := client.Ping(ctxPing, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	if err := ensureIndexes(ctx, client.Database(conf.Database)); err != nil {
		return nil, err
	}

	logging.DefaultLogger().Infof(
		"MongoDB connected, URI: %s, DB: %s",
		conf.ConnectionURI,
		conf.Database,
	)

	return &Client{
		config: conf,
		client: client,
	}, nil
}

// Close all resources of this client.
func (c *Client) Close() error {
	if err := c.client.Disconnect(context.Background()); err != nil {
		return fmt.Errorf("disconnect from mongo: %w", err)
	}

	return nil
}

// LoadDocument returns the content and version of the given document. A
// document that has never been written loads as an empty projection with
// version zero.
func (c *Client) LoadDocument(ctx context.Context, docID string) (*database.DocInfo, error) {
	result := c.collection(colDocuments).FindOne(ctx, bson.M{"_id": docID})

	info := &database.DocInfo{}
	if err := result.Decode(info); err != nil {
		if err == mongo.ErrNoDocuments {
			return &database.DocInfo{ID: docID}, nil
		}
		return nil, fmt.Errorf("decode document %s: %w", docID, err)
	}

	return info, nil
}

// AppendOperation durably stores the given operation and returns it with
// the authoritative id and timestamp assigned.
func (c *Client) AppendOperation(
	ctx context.Context,
	info *database.OperationInfo,
) (*database.OperationInfo, error) {
	stored := *info
	stored.ID = xid.New().String()
	stored.CreatedAt = gotime.Now()

	// Replace instead of insert: a push interrupted between storing its
	// operation and committing the content leaves a stale row at this
	// sequence index, and the index is reassigned under the document lock.
	if _, err := c.collection(colOperations).ReplaceOne(
		ctx,
		bson.M{
			"document_id":    stored.DocumentID,
			"sequence_index": stored.SequenceIndex,
		},
		&stored,
		options.Replace().SetUpsert(true),
	); err != nil {
		return nil, fmt.Errorf("insert operation for %s: %w", info.DocumentID, err)
	}

	return &stored, nil
}

// UpdateDocumentContent stores the new content projection and version of
// the document as one unit. The write is a single-document update guarded
// on the stored version: it only succeeds when the document is still at
// version-1. A stale writer misses the filter and trips the unique _id on
// the upsert insert instead.
func (c *Client) UpdateDocumentContent(
	ctx context.Context,
	docID, content string,
	version int64,
) error {
	result := c.collection(colDocuments).FindOneAndUpdate(
		ctx,
		bson.M{
			"_id":     docID,
			"version": version - 1,
		},
		bson.M{"$set": bson.M{
			"content":    content,
			"version":    version,
			"updated_at": gotime.Now(),
		}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	)
	if err := result.Err(); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return database.ErrConflictOnUpdate
		}
		return fmt.Errorf("update document %s: %w", docID, err)
	}

	return nil
}

// FindOperationsSinceVersion returns all operations of the document
// whose submitted base version is greater than the given one, ordered by
// sequence index.
func (c *Client) FindOperationsSinceVersion(
	ctx context.Context,
	docID string,
	sinceVersion int64,
) ([]*database.OperationInfo, error) {
	cursor, err := c.collection(colOperations).Find(
		ctx,
		bson.M{
			"document_id":  docID,
			"base_version": bson.M{"$gt": sinceVersion},
		},
		options.Find().SetSort(bson.D{{Key: "sequence_index", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("find operations of %s: %w", docID, err)
	}

	var infos []*database.OperationInfo
	if err := cursor.All(ctx, &infos); err != nil {
		return nil, fmt.Errorf("decode operations of %s: %w", docID, err)
	}

	return infos, nil
}

// AppendChatMessage stores the chat message and prunes the channel's
// history beyond the retention limit.
func (c *Client) AppendChatMessage(
	ctx context.Context,
	info *database.MessageInfo,
) (*database.MessageInfo, error) {
	stored := *info
	if stored.ID == "" {
		stored.ID = xid.New().String()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = gotime.Now()
	}

	if _, err := c.collection(colMessages).InsertOne(ctx, &stored); err != nil {
		return nil, fmt.Errorf("insert message for %s: %w", info.ChannelID, err)
	}

	if err := c.pruneChatHistory(ctx, info.ChannelID); err != nil {
		return nil, err
	}

	return &stored, nil
}

// FindChatMessages returns up to limit most recent messages of the
// channel in chronological order.
func (c *Client) FindChatMessages(
	ctx context.Context,
	channelID string,
	limit int,
) ([]*database.MessageInfo, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := c.collection(colMessages).Find(ctx, bson.M{"channel_id": channelID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find messages of %s: %w", channelID, err)
	}

	var infos []*database.MessageInfo
	if err := cursor.All(ctx, &infos); err != nil {
		return nil, fmt.Errorf("decode messages of %s: %w", channelID, err)
	}

	// Newest-first from the sort; return chronological.
	for i, j := 0, len(infos)-1; i < j; i, j = i+1, j-1 {
		infos[i], infos[j] = infos[j], infos[i]
	}

	return infos, nil
}

// pruneChatHistory removes messages beyond the retention limit of the channel.
func (c *Client) pruneChatHistory(ctx context.Context, channelID string) error {
	cursor, err := c.collection(colMessages).Find(
		ctx,
		bson.M{"channel_id": channelID},
		options.Find().
			SetSort(bson.D{{Key: "created_at", Value: -1}}).
			SetSkip(int64(database.ChatHistoryLimit)).
			SetProjection(bson.M{"_id": 1}),
	)
	if err != nil {
		return fmt.Errorf("find stale messages of %s: %w", channelID, err)
	}

	var stale []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &stale); err != nil {
		return fmt.Errorf("decode stale messages of %s: %w", channelID, err)
	}
	if len(stale) == 0 {
		return nil
	}

	ids := make([]string, len(stale))
	for i, s := range stale {
		ids[i] = s.ID
	}

	if _, err := c.collection(colMessages).DeleteMany(
		ctx,
		bson.M{"_id": bson.M{"$in": ids}},
	); err != nil {
		return fmt.Errorf("prune messages of %s: %w", channelID, err)
	}

	return nil
}

func (c *Client) collection(name string) *mongo.Collection {
	return c.client.Database(c.config.Database).Collection(name)
}
