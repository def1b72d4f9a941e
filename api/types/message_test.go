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

package types_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/collabd-team/collabd/api/types"
)

func TestDecodeMessage(t *testing.T) {
	t.Run("chat frame decodes to ChatMessage", func(t *testing.T) {
		msg, err := types.DecodeMessage([]byte(
			`{"type":"chat_message","channel_id":"general","content":"hi"}`,
		))
		assert.NoError(t, err)
		chat, ok := msg.(types.ChatMessage)
		assert.True(t, ok)
		assert.Equal(t, "general", chat.ChannelID)
		assert.Equal(t, "hi", chat.Content)
	})

	t.Run("document operation decodes with base version", func(t *testing.T) {
		msg, err := types.DecodeMessage([]byte(
			`{"type":"document_operation","document_id":"doc-1","op_type":"insert",` +
				`"position":3,"content":"abc","base_version":7}`,
		))
		assert.NoError(t, err)
		op, ok := msg.(types.DocOpMessage)
		assert.True(t, ok)
		assert.Equal(t, types.OpInsert, op.OpType)
		assert.Equal(t, 3, op.Position)
		assert.Equal(t, int64(7), op.BaseVersion)
	})

	t.Run("signal keeps payload opaque", func(t *testing.T) {
		msg, err := types.DecodeMessage([]byte(
			`{"type":"signal","target_user_id":"u2","signal_type":"offer",` +
				`"signal_data":{"sdp":"v=0"},"call_id":"c1"}`,
		))
		assert.NoError(t, err)
		sig, ok := msg.(types.SignalMessage)
		assert.True(t, ok)
		assert.Equal(t, "u2", sig.TargetUserID)
		assert.JSONEq(t, `{"sdp":"v=0"}`, string(sig.SignalData))
	})

	t.Run("unrecognized type is not an error", func(t *testing.T) {
		msg, err := types.DecodeMessage([]byte(`{"type":"emoji_burst"}`))
		assert.NoError(t, err)
		unknown, ok := msg.(types.UnknownMessage)
		assert.True(t, ok)
		assert.Equal(t, types.MessageType("emoji_burst"), unknown.Type)
	})

	t.Run("malformed frame is an error", func(t *testing.T) {
		_, err := types.DecodeMessage([]byte(`{"type":`))
		assert.Error(t, err)
	})
}
