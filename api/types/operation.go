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

package types

import "time"

// OpType is the type of a document operation.
type OpType string

const (
	// OpInsert splices text into the document at a position.
	OpInsert OpType = "insert"

	// OpDelete removes a run of characters starting at a position.
	OpDelete OpType = "delete"
)

// Valid returns true if the op type is one of the closed set.
func (t OpType) Valid() bool {
	return t == OpInsert || t == OpDelete
}

// Operation is an accepted, immutable document edit. SequenceIndex is the
// server-assigned total-order position per document; Version is the
// document version after this operation was applied. Once accepted an
// operation is never mutated or deleted; the document content is a
// projection of applying all operations in SequenceIndex order.
type Operation struct {
	ID            string    `json:"id"`
	DocumentID    string    `json:"document_id"`
	UserID        string    `json:"user_id"`
	OpType        OpType    `json:"op_type"`
	Position      int       `json:"position"`
	Content       string    `json:"content,omitempty"`
	Length        int       `json:"length,omitempty"`
	BaseVersion   int64     `json:"base_version"`
	SequenceIndex int64     `json:"sequence_index"`
	Version       int64     `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
}

// ApplyTo applies the operation to the given content and returns the
// result. Positions are clamped to the content bounds: an insert past the
// end appends, a delete running past the end truncates to the available
// characters. Out-of-range positions are not errors.
func (op *Operation) ApplyTo(content string) string {
	runes := []rune(content)

	pos := op.Position
	if pos < 0 {
		pos = 0
	}
	if pos > len(runes) {
		pos = len(runes)
	}

	switch op.OpType {
	case OpInsert:
		return string(runes[:pos]) + op.Content + string(runes[pos:])
	case OpDelete:
		end := pos + op.Length
		if end > len(runes) {
			end = len(runes)
		}
		if end < pos {
			end = pos
		}
		return string(runes[:pos]) + string(runes[end:])
	default:
		return content
	}
}
