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

package memory_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabd-team/collabd/server/backend/database"
	"github.com/collabd-team/collabd/server/backend/database/memory"
)

func TestDocumentStorage(t *testing.T) {
	ctx := context.Background()

	t.Run("unwritten document loads empty at version zero", func(t *testing.T) {
		db, err := memory.New()
		require.NoError(t, err)

		info, err := db.LoadDocument(ctx, "doc-1")
		assert.NoError(t, err)
		assert.Equal(t, "", info.Content)
		assert.Equal(t, int64(0), info.Version)
	})

	t.Run("content and version update as a unit", func(t *testing.T) {
		db, err := memory.New()
		require.NoError(t, err)

		assert.NoError(t, db.UpdateDocumentContent(ctx, "doc-1", "hello", 1))
		assert.NoError(t, db.UpdateDocumentContent(ctx, "doc-1", "hello!!!", 2))

		info, err := db.LoadDocument(ctx, "doc-1")
		assert.NoError(t, err)
		assert.Equal(t, "hello!!!", info.Content)
		assert.Equal(t, int64(2), info.Version)
	})

	t.Run("stale version write is rejected", func(t *testing.T) {
		db, err := memory.New()
		require.NoError(t, err)

		require.NoError(t, db.UpdateDocumentContent(ctx, "doc-1", "hello", 1))

		assert.ErrorIs(t, db.UpdateDocumentContent(ctx, "doc-1", "bye", 1), database.ErrConflictOnUpdate)
		assert.ErrorIs(t, db.UpdateDocumentContent(ctx, "doc-1", "bye", 3), database.ErrConflictOnUpdate)

		info, err := db.LoadDocument(ctx, "doc-1")
		assert.NoError(t, err)
		assert.Equal(t, "hello", info.Content)
		assert.Equal(t, int64(1), info.Version)
	})
}

func TestOperationStorage(t *testing.T) {
	ctx := context.Background()

	db, err := memory.New()
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		stored, err := db.AppendOperation(ctx, &database.OperationInfo{
			DocumentID:    "doc-1",
			UserID:        "u1",
			OpType:        "insert",
			BaseVersion:   int64(i),
			SequenceIndex: int64(i),
			Version:       int64(i + 1),
		})
		require.NoError(t, err)
		assert.NotEmpty(t, stored.ID)
		assert.False(t, stored.CreatedAt.IsZero())
	}

	t.Run("tail since base version", func(t *testing.T) {
		infos, err := db.FindOperationsSinceVersion(ctx, "doc-1", 0)
		assert.NoError(t, err)
		require.Len(t, infos, 2)
		assert.Equal(t, int64(1), infos[0].SequenceIndex)
		assert.Equal(t, int64(2), infos[1].SequenceIndex)
	})

	t.Run("since the newest base version returns nothing", func(t *testing.T) {
		infos, err := db.FindOperationsSinceVersion(ctx, "doc-1", 2)
		assert.NoError(t, err)
		assert.Empty(t, infos)
	})

	t.Run("other documents are not visible", func(t *testing.T) {
		infos, err := db.FindOperationsSinceVersion(ctx, "doc-2", 0)
		assert.NoError(t, err)
		assert.Empty(t, infos)
	})
}

func TestChatHistory(t *testing.T) {
	ctx := context.Background()

	db, err := memory.New()
	require.NoError(t, err)

	total := database.ChatHistoryLimit + 10
	for i := 0; i < total; i++ {
		_, err := db.AppendChatMessage(ctx, &database.MessageInfo{
			ChannelID: "general",
			UserID:    "u1",
			Content:   fmt.Sprintf("msg-%d", i),
		})
		require.NoError(t, err)
	}

	infos, err := db.FindChatMessages(ctx, "general", 0)
	assert.NoError(t, err)
	assert.Len(t, infos, database.ChatHistoryLimit)

	recent, err := db.FindChatMessages(ctx, "general", 5)
	assert.NoError(t, err)
	require.Len(t, recent, 5)
	assert.Equal(t, fmt.Sprintf("msg-%d", total-1), recent[4].Content)
}
