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

// Package database provides the database interface for the Collabd backend.
package database

import (
	"context"
	"time"

	"github.com/collabd-team/collabd/api/types"
	"github.com/collabd-team/collabd/pkg/errors"
)

var (
	// ErrDocumentNotFound is returned when the document could not be found.
	ErrDocumentNotFound = errors.NotFound("document not found").WithCode("ErrDocumentNotFound")

	// ErrConflictOnUpdate is returned when a conflict occurs during update.
	ErrConflictOnUpdate = errors.FailedPrecond("conflict on update").WithCode("ErrConflictOnUpdate")
)

// ChatHistoryLimit is the number of chat messages retained per channel.
const ChatHistoryLimit = 1000

// DocInfo is the stored state of a document: the cached content
// projection and its version counter.
type DocInfo struct {
	ID        string    `json:"id" bson:"_id"`
	Content   string    `json:"content" bson:"content"`
	Version   int64     `json:"version" bson:"version"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// DeepCopy returns a deep copy of the DocInfo.
func (i *DocInfo) DeepCopy() *DocInfo {
	if i == nil {
		return nil
	}
	copied := *i
	return &copied
}

// OperationInfo is the stored form of an accepted document operation.
// Operations are append-only: they are never mutated or deleted once
// stored.
type OperationInfo struct {
	ID            string    `json:"id" bson:"_id"`
	DocumentID    string    `json:"document_id" bson:"document_id"`
	UserID        string    `json:"user_id" bson:"user_id"`
	OpType        string    `json:"op_type" bson:"op_type"`
	Position      int       `json:"position" bson:"position"`
	Content       string    `json:"content" bson:"content"`
	Length        int       `json:"length" bson:"length"`
	BaseVersion   int64     `json:"base_version" bson:"base_version"`
	SequenceIndex int64     `json:"sequence_index" bson:"sequence_index"`
	Version       int64     `json:"version" bson:"version"`
	CreatedAt     time.Time `json:"created_at" bson:"created_at"`
}

// ToOperation converts the stored info to the API type.
func (i *OperationInfo) ToOperation() *types.Operation {
	return &types.Operation{
		ID:            i.ID,
		DocumentID:    i.DocumentID,
		UserID:        i.UserID,
		OpType:        types.OpType(i.OpType),
		Position:      i.Position,
		Content:       i.Content,
		Length:        i.Length,
		BaseVersion:   i.BaseVersion,
		SequenceIndex: i.SequenceIndex,
		Version:       i.Version,
		CreatedAt:     i.CreatedAt,
	}
}

// MessageInfo is a stored chat message. Channels keep a bounded history;
// older messages beyond ChatHistoryLimit are pruned on append.
type MessageInfo struct {
	ID          string    `json:"id" bson:"_id"`
	ChannelID   string    `json:"channel_id" bson:"channel_id"`
	GroupID     string    `json:"group_id" bson:"group_id"`
	UserID      string    `json:"user_id" bson:"user_id"`
	Content     string    `json:"content" bson:"content"`
	ContentType string    `json:"content_type" bson:"content_type"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
}

// Database reads and saves Collabd data. Implementations must make
// UpdateDocumentContent atomic with respect to the version counter:
// content and version always move as a unit.
type Database interface {
	// Close all resources of this database.
	Close() error

	// LoadDocument returns the content and version of the given document.
	// A document that has never been written loads as an empty projection
	// with version zero; documents are created lazily on first operation.
	LoadDocument(ctx context.Context, docID string) (*DocInfo, error)

	// AppendOperation durably stores the given operation and returns it
	// with the authoritative id and timestamp assigned. A row left at the
	// same document and sequence index by an interrupted push is replaced.
	AppendOperation(ctx context.Context, info *OperationInfo) (*OperationInfo, error)

	// UpdateDocumentContent stores the new content projection and version
	// of the document as one unit. The write is guarded on the stored
	// version: ErrConflictOnUpdate is returned unless the document is
	// still at version-1.
	UpdateDocumentContent(ctx context.Context, docID, content string, version int64) error

	// FindOperationsSinceVersion returns all operations of the document
	// whose submitted base version is greater than the given one, ordered
	// by sequence index.
	FindOperationsSinceVersion(ctx context.Context, docID string, sinceVersion int64) ([]*OperationInfo, error)

	// AppendChatMessage stores the chat message and prunes the channel's
	// history beyond the retention limit.
	AppendChatMessage(ctx context.Context, info *MessageInfo) (*MessageInfo, error)

	// FindChatMessages returns up to limit most recent messages of the
	// channel in chronological order.
	FindChatMessages(ctx context.Context, channelID string, limit int) ([]*MessageInfo, error)
}
