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

// Package memory implements the database interface using in-memory database.
package memory

import (
	"context"
	"fmt"
	"sort"
	gotime "time"

	"github.com/hashicorp/go-memdb"
	"github.com/rs/xid"

	"github.com/collabd-team/collabd/server/backend/database"
)

// DB is an in-memory database for testing or single-node deployments.
type DB struct {
	db *memdb.MemDB
}

// New returns a new in-memory database.
func New() (*DB, error) {
	memDB, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("new memdb: %w", err)
	}

	return &DB{
		db: memDB,
	}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return nil
}

// LoadDocument returns the content and version of the given document. A
// document that has never been written loads as an empty projection with
// version zero.
func (d *DB) LoadDocument(_ context.Context, docID string) (*database.DocInfo, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tblDocuments, "id", docID)
	if err != nil {
		return nil, fmt.Errorf("find document %s: %w", docID, err)
	}

	if raw == nil {
		return &database.DocInfo{ID: docID}, nil
	}

	return raw.(*database.DocInfo).DeepCopy(), nil
}

// AppendOperation durably stores the given operation and returns it with
// the authoritative id and timestamp assigned.
func (d *DB) AppendOperation(
	_ context.Context,
	info *database.OperationInfo,
) (*database.OperationInfo, error) {
	txn := d.db.Txn(true)
	defer txn.Abort()

	stored := *info
	stored.ID = xid.New().String()
	stored.CreatedAt = gotime.Now()

	// A stale row can exist at this sequence index if a previous push was
	// interrupted between storing its operation and committing the
	// content. The index is reassigned under the document lock, so the
	// stale row is replaced.
	raw, err := txn.First(
		tblOperations,
		"document_id_sequence_index",
		stored.DocumentID,
		stored.SequenceIndex,
	)
	if err != nil {
		return nil, fmt.Errorf("find operation at %s/%d: %w", stored.DocumentID, stored.SequenceIndex, err)
	}
	if raw != nil {
		if err := txn.Delete(tblOperations, raw); err != nil {
			return nil, fmt.Errorf("replace operation at %s/%d: %w", stored.DocumentID, stored.SequenceIndex, err)
		}
	}

	if err := txn.Insert(tblOperations, &stored); err != nil {
		return nil, fmt.Errorf("insert operation for %s: %w", info.DocumentID, err)
	}

	txn.Commit()
	return &stored, nil
}

// UpdateDocumentContent stores the new content projection and version of
// the document as one unit. The write is guarded on the stored version:
// it only succeeds when the document is still at version-1.
func (d *DB) UpdateDocumentContent(
	_ context.Context,
	docID, content string,
	version int64,
) error {
	txn := d.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tblDocuments, "id", docID)
	if err != nil {
		return fmt.Errorf("find document %s: %w", docID, err)
	}
	var storedVersion int64
	if raw != nil {
		storedVersion = raw.(*database.DocInfo).Version
	}
	if storedVersion != version-1 {
		return database.ErrConflictOnUpdate
	}

	info := &database.DocInfo{
		ID:        docID,
		Content:   content,
		Version:   version,
		UpdatedAt: gotime.Now(),
	}
	if err := txn.Insert(tblDocuments, info); err != nil {
		return fmt.Errorf("update document %s: %w", docID, err)
	}

	txn.Commit()
	return nil
}

// FindOperationsSinceVersion returns all operations of the document
// whose submitted base version is greater than the given one, ordered by
// sequence index.
func (d *DB) FindOperationsSinceVersion(
	_ context.Context,
	docID string,
	sinceVersion int64,
) ([]*database.OperationInfo, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(tblOperations, "document_id", docID)
	if err != nil {
		return nil, fmt.Errorf("find operations of %s: %w", docID, err)
	}

	var infos []*database.OperationInfo
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		info := raw.(*database.OperationInfo)
		if info.BaseVersion <= sinceVersion {
			continue
		}
		copied := *info
		infos = append(infos, &copied)
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].SequenceIndex < infos[j].SequenceIndex
	})

	return infos, nil
}

// AppendChatMessage stores the chat message and prunes the channel's
// history beyond the retention limit.
func (d *DB) AppendChatMessage(
	_ context.Context,
	info *database.MessageInfo,
) (*database.MessageInfo, error) {
	txn := d.db.Txn(true)
	defer txn.Abort()

	stored := *info
	if stored.ID == "" {
		stored.ID = xid.New().String()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = gotime.Now()
	}

	if err := txn.Insert(tblMessages, &stored); err != nil {
		return nil, fmt.Errorf("insert message for %s: %w", info.ChannelID, err)
	}

	history, err := channelMessages(txn, info.ChannelID)
	if err != nil {
		return nil, err
	}
	for len(history) > database.ChatHistoryLimit {
		oldest := history[0]
		if err := txn.Delete(tblMessages, oldest); err != nil {
			return nil, fmt.Errorf("prune message %s: %w", oldest.ID, err)
		}
		history = history[1:]
	}

	txn.Commit()
	return &stored, nil
}

// FindChatMessages returns up to limit most recent messages of the
// channel in chronological order.
func (d *DB) FindChatMessages(
	_ context.Context,
	channelID string,
	limit int,
) ([]*database.MessageInfo, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()

	infos, err := channelMessages(txn, channelID)
	if err != nil {
		return nil, err
	}

	if limit > 0 && len(infos) > limit {
		infos = infos[len(infos)-limit:]
	}

	copied := make([]*database.MessageInfo, len(infos))
	for i, info := range infos {
		c := *info
		copied[i] = &c
	}
	return copied, nil
}

// channelMessages returns the channel's messages in chronological order.
func channelMessages(txn *memdb.Txn, channelID string) ([]*database.MessageInfo, error) {
	iter, err := txn.Get(tblMessages, "channel_id", channelID)
	if err != nil {
		return nil, fmt.Errorf("find messages of %s: %w", channelID, err)
	}

	var infos []*database.MessageInfo
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		infos = append(infos, raw.(*database.MessageInfo))
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})

	return infos, nil
}
