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

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType is the discriminator of inbound and outbound frames.
type MessageType string

// The closed set of message types this server speaks. Inbound frames with
// any other type decode to UnknownMessage and are ignored by the router.
const (
	MessageChat     MessageType = "chat_message"
	MessageTyping   MessageType = "typing"
	MessageCursor   MessageType = "cursor_position"
	MessageDocOp    MessageType = "document_operation"
	MessageSignal   MessageType = "signal"
	MessagePresence MessageType = "user_presence"
	MessageAck      MessageType = "operation_ack"
	MessageError    MessageType = "error"
)

// InboundMessage is the closed variant type for decoded client frames.
// Decoding happens once at the connection boundary; the router dispatches
// on the concrete type.
type InboundMessage interface {
	isInboundMessage()
}

// ChatMessage is a chat frame broadcast to the sender's group.
type ChatMessage struct {
	ChannelID   string `json:"channel_id" validate:"required,slug"`
	Content     string `json:"content" validate:"required"`
	ContentType string `json:"content_type,omitempty"`
}

// TypingMessage is a typing indicator broadcast to the sender's group.
type TypingMessage struct {
	ChannelID string `json:"channel_id"`
	IsTyping  bool   `json:"is_typing"`
}

// CursorMessage is a cursor position broadcast to the sender's group.
type CursorMessage struct {
	DocumentID string          `json:"document_id"`
	Position   int             `json:"position"`
	Selection  json.RawMessage `json:"selection,omitempty"`
}

// DocOpMessage is a document edit submitted to the sequencer.
type DocOpMessage struct {
	DocumentID  string `json:"document_id" validate:"required,slug"`
	OpType      OpType `json:"op_type" validate:"required,oneof=insert delete"`
	Position    int    `json:"position" validate:"gte=0"`
	Content     string `json:"content,omitempty"`
	Length      int    `json:"length,omitempty" validate:"gte=0"`
	BaseVersion int64  `json:"base_version" validate:"gte=0"`
}

// SignalMessage is a point-to-point session-establishment frame. The
// payload fields are opaque to the server.
type SignalMessage struct {
	TargetUserID string          `json:"target_user_id" validate:"required"`
	SignalType   string          `json:"signal_type"`
	SignalData   json.RawMessage `json:"signal_data,omitempty"`
	CallID       string          `json:"call_id,omitempty"`
}

// UnknownMessage carries the type tag of a frame this server does not
// recognize. Routers must treat it as a deliberate no-op.
type UnknownMessage struct {
	Type MessageType
}

func (ChatMessage) isInboundMessage()    {}
func (TypingMessage) isInboundMessage()  {}
func (CursorMessage) isInboundMessage()  {}
func (DocOpMessage) isInboundMessage()   {}
func (SignalMessage) isInboundMessage()  {}
func (UnknownMessage) isInboundMessage() {}

// envelope is the minimal frame shape needed to pick a variant.
type envelope struct {
	Type MessageType `json:"type"`
}

// DecodeMessage decodes a raw client frame into its variant. A frame with
// an unrecognized type decodes to UnknownMessage; malformed JSON is an
// error.
func DecodeMessage(data []byte) (InboundMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode message envelope: %w", err)
	}

	switch env.Type {
	case MessageChat:
		var msg ChatMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode chat message: %w", err)
		}
		return msg, nil
	case MessageTyping:
		var msg TypingMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode typing message: %w", err)
		}
		return msg, nil
	case MessageCursor:
		var msg CursorMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode cursor message: %w", err)
		}
		return msg, nil
	case MessageDocOp:
		var msg DocOpMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode document operation: %w", err)
		}
		return msg, nil
	case MessageSignal:
		var msg SignalMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode signal message: %w", err)
		}
		return msg, nil
	default:
		return UnknownMessage{Type: env.Type}, nil
	}
}

// OutboundMessage is a frame sent to clients. All outbound frames are
// self-describing JSON objects with a type discriminator.
type OutboundMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`

	// Chat fields.
	ID          string `json:"id,omitempty"`
	ChannelID   string `json:"channel_id,omitempty"`
	Content     string `json:"content,omitempty"`
	ContentType string `json:"content_type,omitempty"`

	// Common sender identity.
	UserID string `json:"user_id,omitempty"`

	// Typing and cursor fields.
	IsTyping  *bool           `json:"is_typing,omitempty"`
	Position  *int            `json:"position,omitempty"`
	Selection json.RawMessage `json:"selection,omitempty"`

	// Presence fields.
	Status PresenceStatus `json:"status,omitempty"`

	// Document operation fields.
	DocumentID string     `json:"document_id,omitempty"`
	Operation  *Operation `json:"operation,omitempty"`

	// Signal fields.
	FromUserID string          `json:"from_user_id,omitempty"`
	SignalType string          `json:"signal_type,omitempty"`
	SignalData json.RawMessage `json:"signal_data,omitempty"`
	CallID     string          `json:"call_id,omitempty"`

	// Error fields.
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Encode marshals the outbound frame to JSON.
func (m *OutboundMessage) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", m.Type, err)
	}
	return data, nil
}
