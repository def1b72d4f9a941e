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

// Package backend wires the subsystems the server runs on: storage, the
// connection hub, the sequencer, the signal router and the admission
// limiter.
package backend

import (
	"context"

	"github.com/collabd-team/collabd/server/auth"
	"github.com/collabd-team/collabd/server/backend/database"
	"github.com/collabd-team/collabd/server/backend/database/memory"
	"github.com/collabd-team/collabd/server/backend/database/mongo"
	"github.com/collabd-team/collabd/server/documents"
	"github.com/collabd-team/collabd/server/hub"
	"github.com/collabd-team/collabd/server/limiter"
	"github.com/collabd-team/collabd/server/logging"
	"github.com/collabd-team/collabd/server/profiling/prometheus"
	"github.com/collabd-team/collabd/server/signal"
)

// Backend bundles the subsystems of the server. A Backend and its
// underlying resources are created when the server starts and closed
// when it stops.
type Backend struct {
	Config  *Config
	Metrics *prometheus.Metrics

	DB           database.Database
	Hub          *hub.Hub
	Sequencer    *documents.Sequencer
	SignalRouter *signal.Router
	Limiter      *limiter.Limiter
	Verifier     *auth.Verifier

	limitStore limiter.Store
}

// New creates an instance of Backend. When mongoConf is nil, data is
// kept in memory and vanishes with the process.
func New(
	conf *Config,
	mongoConf *mongo.Config,
	metrics *prometheus.Metrics,
) (*Backend, error) {
	var db database.Database
	var err error
	if mongoConf != nil {
		db, err = mongo.Dial(mongoConf)
		if err != nil {
			return nil, err
		}
		logging.DefaultLogger().Infof(
			"connected to mongo: %s",
			mongoConf.ConnectionURI,
		)
	} else {
		db, err = memory.New()
		if err != nil {
			return nil, err
		}
	}

	var limitStore limiter.Store
	if conf.RedisAddr != "" {
		limitStore, err = limiter.NewRedisStore(
			context.Background(),
			conf.RedisAddr,
			conf.RedisPassword,
			conf.RedisDB,
		)
		if err != nil {
			return nil, err
		}
		logging.DefaultLogger().Infof("connected to redis: %s", conf.RedisAddr)
	} else {
		limitStore = limiter.NewMemoryStore()
	}

	h := hub.New(metrics)

	return &Backend{
		Config:       conf,
		Metrics:      metrics,
		DB:           db,
		Hub:          h,
		Sequencer:    documents.New(db, h, metrics),
		SignalRouter: signal.NewRouter(h, metrics),
		Limiter:      limiter.New(limitStore, conf.RateLimitRules(), metrics),
		Verifier:     auth.NewVerifier(conf.SecretKey),
		limitStore:   limitStore,
	}, nil
}

// Shutdown disconnects every client and closes the underlying
// resources.
func (b *Backend) Shutdown(ctx context.Context) error {
	b.Hub.Close(ctx)

	if err := b.limitStore.Close(); err != nil {
		logging.DefaultLogger().Warnf("close limit store: %v", err)
	}
	return b.DB.Close()
}
