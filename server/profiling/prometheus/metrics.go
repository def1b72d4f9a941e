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

// Package prometheus provides a Prometheus metrics exporter.
package prometheus

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/collabd-team/collabd/internal/version"
)

const (
	namespace        = "collabd"
	messageTypeLabel = "message_type"
	classLabel       = "resource_class"
)

// Metrics manages the metric information that Collabd is trying to measure.
type Metrics struct {
	registry *prometheus.Registry

	serverVersion *prometheus.GaugeVec

	connectionsTotal     prometheus.Gauge
	broadcastEventsTotal *prometheus.CounterVec
	sendFailuresTotal    prometheus.Counter
	signalsDroppedTotal  prometheus.Counter

	operationsAcceptedTotal   prometheus.Counter
	operationPersistFailTotal prometheus.Counter

	rateLimitRejectedTotal *prometheus.CounterVec
	rateLimitFailOpenTotal prometheus.Counter

	unknownMessagesTotal prometheus.Counter
}

// NewMetrics creates a new instance of Metrics.
func NewMetrics() (*Metrics, error) {
	reg := prometheus.NewRegistry()

	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("register process collector: %w", err)
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register go collector: %w", err)
	}

	metrics := &Metrics{
		registry: reg,
		serverVersion: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "version",
			Help:      "Which version is running. 1 for 'server_version' label with current version.",
		}, []string{"server_version"}),
		connectionsTotal: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "connections",
			Help:      "The current number of live connections.",
		}),
		broadcastEventsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "broadcast_events_total",
			Help:      "The total count of messages fanned out to groups.",
		}, []string{messageTypeLabel}),
		sendFailuresTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "send_failures_total",
			Help:      "The total count of failed sends that evicted a connection.",
		}),
		signalsDroppedTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signal",
			Name:      "dropped_total",
			Help:      "The total count of signals dropped because the target had no live connection.",
		}),
		operationsAcceptedTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sequencer",
			Name:      "operations_accepted_total",
			Help:      "The total count of document operations accepted and sequenced.",
		}),
		operationPersistFailTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sequencer",
			Name:      "operation_persist_failures_total",
			Help:      "The total count of operations rolled back because persistence failed.",
		}),
		rateLimitRejectedTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "limiter",
			Name:      "rejected_total",
			Help:      "The total count of requests rejected by the admission limiter.",
		}, []string{classLabel}),
		rateLimitFailOpenTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "limiter",
			Name:      "fail_open_total",
			Help:      "The total count of requests admitted because the counter store was unreachable.",
		}),
		unknownMessagesTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "unknown_messages_total",
			Help:      "The total count of inbound frames with an unrecognized type.",
		}),
	}
	metrics.serverVersion.With(prometheus.Labels{
		"server_version": version.Version,
	}).Set(1)

	return metrics, nil
}

// Registry returns the registry of this metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// AddConnection adds a live connection to the gauge.
func (m *Metrics) AddConnection() {
	m.connectionsTotal.Inc()
}

// RemoveConnection removes a live connection from the gauge.
func (m *Metrics) RemoveConnection() {
	m.connectionsTotal.Dec()
}

// AddBroadcastEvent adds a fanned-out message of the given type.
func (m *Metrics) AddBroadcastEvent(messageType string) {
	m.broadcastEventsTotal.With(prometheus.Labels{
		messageTypeLabel: messageType,
	}).Inc()
}

// AddSendFailure adds a failed send that evicted a connection.
func (m *Metrics) AddSendFailure() {
	m.sendFailuresTotal.Inc()
}

// AddSignalDropped adds a dropped point-to-point signal.
func (m *Metrics) AddSignalDropped() {
	m.signalsDroppedTotal.Inc()
}

// AddOperationAccepted adds an accepted document operation.
func (m *Metrics) AddOperationAccepted() {
	m.operationsAcceptedTotal.Inc()
}

// AddOperationPersistFailure adds a rolled-back document operation.
func (m *Metrics) AddOperationPersistFailure() {
	m.operationPersistFailTotal.Inc()
}

// AddRateLimitRejected adds a request rejected by the admission limiter.
func (m *Metrics) AddRateLimitRejected(class string) {
	m.rateLimitRejectedTotal.With(prometheus.Labels{
		classLabel: class,
	}).Inc()
}

// AddRateLimitFailOpen adds a request admitted because the counter store
// was unreachable.
func (m *Metrics) AddRateLimitFailOpen() {
	m.rateLimitFailOpenTotal.Inc()
}

// AddUnknownMessage adds an inbound frame with an unrecognized type.
func (m *Metrics) AddUnknownMessage() {
	m.unknownMessagesTotal.Inc()
}
