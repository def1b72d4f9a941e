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

// Package documents provides the sequencer that assigns the
// server-authoritative total order of document operations. Every
// accepted operation gets the next sequence index of its document, is
// applied to the content projection and persisted, then announced to
// the submitter's group.
package documents

import (
	"context"
	gosync "sync"
	gotime "time"

	"github.com/collabd-team/collabd/api/types"
	"github.com/collabd-team/collabd/pkg/errors"
	"github.com/collabd-team/collabd/pkg/locker"
	"github.com/collabd-team/collabd/server/backend/database"
	"github.com/collabd-team/collabd/server/logging"
	"github.com/collabd-team/collabd/server/profiling/prometheus"
)

// Broadcaster announces accepted operations to the members of a group.
type Broadcaster interface {
	Broadcast(ctx context.Context, groupID string, msg *types.OutboundMessage)
}

// projection is the cached state of a document between pushes. It is
// only read and written while the document's lock is held.
type projection struct {
	content string
	version int64
}

// Sequencer serializes the edits of each document. Concurrent pushes to
// the same document queue on the document's lock; pushes to different
// documents proceed independently.
type Sequencer struct {
	db          database.Database
	locks       *locker.Locker
	broadcaster Broadcaster
	metrics     *prometheus.Metrics

	projMapMu      *gosync.Mutex
	projMapByDocID map[string]*projection
}

// New creates an instance of Sequencer.
func New(
	db database.Database,
	broadcaster Broadcaster,
	metrics *prometheus.Metrics,
) *Sequencer {
	return &Sequencer{
		db:             db,
		locks:          locker.New(),
		broadcaster:    broadcaster,
		metrics:        metrics,
		projMapMu:      &gosync.Mutex{},
		projMapByDocID: make(map[string]*projection),
	}
}

// Push accepts the given edit, assigns it the document's next sequence
// index and version, applies it to the content projection, persists
// both, and announces the accepted operation to the given group. Edits
// are never rejected for being based on an outdated version: positions
// are clamped to the current content and the submitter reconciles
// through the announced order.
//
// If persistence fails, the cached projection is dropped so the index
// is not consumed, and the error is returned to the submitter.
func (s *Sequencer) Push(
	ctx context.Context,
	userID, groupID string,
	msg types.DocOpMessage,
) (*types.Operation, error) {
	if !msg.OpType.Valid() {
		return nil, errors.InvalidArgument("unsupported operation type: " + string(msg.OpType))
	}

	docID := msg.DocumentID
	s.locks.Lock(docKey(docID))
	defer func() {
		if err := s.locks.Unlock(docKey(docID)); err != nil {
			logging.From(ctx).Errorf(`Push(%s) unlock: %v`, docID, err)
		}
	}()

	proj, err := s.loadProjection(ctx, docID)
	if err != nil {
		return nil, err
	}

	op := &types.Operation{
		DocumentID:    docID,
		UserID:        userID,
		OpType:        msg.OpType,
		Position:      msg.Position,
		Content:       msg.Content,
		Length:        msg.Length,
		BaseVersion:   msg.BaseVersion,
		SequenceIndex: proj.version + 1,
		Version:       proj.version + 1,
	}
	newContent := op.ApplyTo(proj.content)

	stored, err := s.db.AppendOperation(ctx, &database.OperationInfo{
		DocumentID:    op.DocumentID,
		UserID:        op.UserID,
		OpType:        string(op.OpType),
		Position:      op.Position,
		Content:       op.Content,
		Length:        op.Length,
		BaseVersion:   op.BaseVersion,
		SequenceIndex: op.SequenceIndex,
		Version:       op.Version,
	})
	if err != nil {
		s.rollback(ctx, docID, err)
		return nil, errors.Unavailable("store operation of " + docID)
	}

	if err := s.db.UpdateDocumentContent(ctx, docID, newContent, op.Version); err != nil {
		s.rollback(ctx, docID, err)
		return nil, errors.Unavailable("store content of " + docID)
	}

	proj.content = newContent
	proj.version = op.Version
	s.metrics.AddOperationAccepted()

	accepted := stored.ToOperation()

	// The announcement happens inside the document's critical section so
	// group members observe operations in sequence order.
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(ctx, groupID, &types.OutboundMessage{
			Type:       types.MessageDocOp,
			Timestamp:  gotime.Now(),
			UserID:     userID,
			DocumentID: docID,
			Operation:  accepted,
		})
	}

	return accepted, nil
}

// OperationsSince returns the operations of the document whose
// submitted base version is greater than the given one, in sequence
// order, together with the document's current version. The snapshot is
// taken inside the document's critical section so the returned
// operations never run past the returned version.
func (s *Sequencer) OperationsSince(
	ctx context.Context,
	docID string,
	sinceVersion int64,
) (*types.ResyncResponse, error) {
	s.locks.Lock(docKey(docID))
	defer func() {
		if err := s.locks.Unlock(docKey(docID)); err != nil {
			logging.From(ctx).Errorf(`OperationsSince(%s) unlock: %v`, docID, err)
		}
	}()

	docInfo, err := s.db.LoadDocument(ctx, docID)
	if err != nil {
		return nil, err
	}

	infos, err := s.db.FindOperationsSinceVersion(ctx, docID, sinceVersion)
	if err != nil {
		return nil, err
	}

	ops := make([]*types.Operation, 0, len(infos))
	for _, info := range infos {
		// A row past the stored version was left by a push that failed
		// before committing its content. Its index is reassigned on the
		// next push, so a catching-up client must not see it.
		if info.Version > docInfo.Version {
			continue
		}
		ops = append(ops, info.ToOperation())
	}

	return &types.ResyncResponse{
		DocumentID: docID,
		Version:    docInfo.Version,
		Operations: ops,
	}, nil
}

// Document returns the stored state of the given document. A document
// that has never been written returns an empty projection with
// version zero.
func (s *Sequencer) Document(ctx context.Context, docID string) (*database.DocInfo, error) {
	return s.db.LoadDocument(ctx, docID)
}

// loadProjection returns the cached projection of the document, loading
// it from storage on first use. The document's lock must be held.
func (s *Sequencer) loadProjection(ctx context.Context, docID string) (*projection, error) {
	s.projMapMu.Lock()
	proj, ok := s.projMapByDocID[docID]
	s.projMapMu.Unlock()
	if ok {
		return proj, nil
	}

	docInfo, err := s.db.LoadDocument(ctx, docID)
	if err != nil {
		return nil, err
	}

	proj = &projection{
		content: docInfo.Content,
		version: docInfo.Version,
	}
	s.projMapMu.Lock()
	s.projMapByDocID[docID] = proj
	s.projMapMu.Unlock()
	return proj, nil
}

// rollback drops the cached projection of the document after a failed
// persist so the next push reloads from storage and reuses the index.
func (s *Sequencer) rollback(ctx context.Context, docID string, err error) {
	s.projMapMu.Lock()
	delete(s.projMapByDocID, docID)
	s.projMapMu.Unlock()

	s.metrics.AddOperationPersistFailure()
	logging.From(ctx).Warnf(`Push(%s) persist failed: %v`, docID, err)
}

func docKey(docID string) string {
	return "documents/" + docID
}
