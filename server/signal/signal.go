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

// Package signal provides point-to-point relaying of session
// establishment payloads between users. The payloads are opaque to the
// server; it only addresses them.
package signal

import (
	"context"
	gotime "time"

	"go.uber.org/zap"

	"github.com/collabd-team/collabd/api/types"
	"github.com/collabd-team/collabd/server/logging"
	"github.com/collabd-team/collabd/server/profiling/prometheus"
)

// Sender delivers a message to the primary connection of a user and
// reports whether the user was reachable.
type Sender interface {
	SendToUser(ctx context.Context, userID string, msg *types.OutboundMessage) bool
}

// Router relays signal frames between users.
type Router struct {
	sender  Sender
	metrics *prometheus.Metrics
}

// NewRouter creates an instance of Router.
func NewRouter(sender Sender, metrics *prometheus.Metrics) *Router {
	return &Router{
		sender:  sender,
		metrics: metrics,
	}
}

// Route forwards the given signal to its target user, stamping the
// sender's identity so the recipient can address the reply. A signal to
// a user without a live connection is dropped; signaling is best effort
// and peers recover through their own session timeouts.
func (r *Router) Route(ctx context.Context, fromUserID string, msg types.SignalMessage) {
	delivered := r.sender.SendToUser(ctx, msg.TargetUserID, &types.OutboundMessage{
		Type:       types.MessageSignal,
		Timestamp:  gotime.Now(),
		FromUserID: fromUserID,
		SignalType: msg.SignalType,
		SignalData: msg.SignalData,
		CallID:     msg.CallID,
	})
	if !delivered {
		r.metrics.AddSignalDropped()
		if logging.Enabled(zap.DebugLevel) {
			logging.From(ctx).Debugf(
				`Route(%s->%s) dropped: no live connection`,
				fromUserID,
				msg.TargetUserID,
			)
		}
	}
}
