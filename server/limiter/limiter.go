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

// Package limiter provides per-user admission control with a sliding
// window over recent attempts. The limiter protects capacity, not
// correctness: when its counter store is unreachable it admits the
// attempt rather than turning a store outage into a platform outage.
package limiter

import (
	"context"
	"fmt"
	gotime "time"

	"github.com/collabd-team/collabd/api/types"
	"github.com/collabd-team/collabd/server/logging"
	"github.com/collabd-team/collabd/server/profiling/prometheus"
)

// Resource classes with independent budgets. An attempt in one class
// never consumes the budget of another.
const (
	ClassChat      = "chat_message"
	ClassDocOp     = "document_operation"
	ClassSignaling = "signaling"
	ClassDefault   = "default"
)

// Rule is the budget of one resource class: at most Limit admitted
// attempts per Window. A non-positive limit disables the class.
type Rule struct {
	Limit  int
	Window gotime.Duration
}

// DefaultRules returns the budgets applied when the configuration does
// not override them.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		ClassChat:      {Limit: 120, Window: gotime.Minute},
		ClassDocOp:     {Limit: 60, Window: gotime.Minute},
		ClassSignaling: {Limit: 30, Window: gotime.Minute},
		ClassDefault:   {Limit: 100, Window: gotime.Minute},
	}
}

// Result is the outcome of one admission check.
type Result struct {
	Allowed bool
	Limit   int
	Window  gotime.Duration
	Current int
}

// Info converts the result to the API shape returned with a rejection.
func (r Result) Info() *types.RateLimitInfo {
	return &types.RateLimitInfo{
		Detail: fmt.Sprintf(
			"rate limit exceeded: %d per %d seconds",
			r.Limit,
			int(r.Window.Seconds()),
		),
		Limit:   r.Limit,
		Window:  int(r.Window.Seconds()),
		Current: r.Current,
	}
}

// Remaining returns the attempts left in the window.
func (r Result) Remaining() int {
	remaining := r.Limit - r.Current
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Limiter checks attempts against per-class budgets backed by a counter
// store.
type Limiter struct {
	store   Store
	rules   map[string]Rule
	metrics *prometheus.Metrics
}

// New creates an instance of Limiter with the given rules. Classes not
// present in the rules fall back to the default class.
func New(store Store, rules map[string]Rule, metrics *prometheus.Metrics) *Limiter {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Limiter{
		store:   store,
		rules:   rules,
		metrics: metrics,
	}
}

// Allow checks whether the given user may perform one more attempt of
// the given class and records it when admitted. A rejected attempt does
// not consume budget, so a client hammering the limit recovers as soon
// as its old attempts slide out of the window. A store failure admits
// the attempt.
func (l *Limiter) Allow(ctx context.Context, userID, class string) Result {
	rule, ok := l.rules[class]
	if !ok {
		rule = l.rules[ClassDefault]
		class = ClassDefault
	}
	if rule.Limit <= 0 {
		return Result{Allowed: true, Limit: rule.Limit, Window: rule.Window}
	}

	allowed, current, err := l.store.CheckAndRecord(
		ctx,
		class+":"+userID,
		rule.Limit,
		rule.Window,
	)
	if err != nil {
		l.metrics.AddRateLimitFailOpen()
		logging.From(ctx).Warnf(`Allow(%s,%s) store failed, admitting: %v`, userID, class, err)
		return Result{Allowed: true, Limit: rule.Limit, Window: rule.Window}
	}

	if !allowed {
		l.metrics.AddRateLimitRejected(class)
	}
	return Result{
		Allowed: allowed,
		Limit:   rule.Limit,
		Window:  rule.Window,
		Current: current,
	}
}
