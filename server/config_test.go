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

package server_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabd-team/collabd/server"
)

func TestNewConfigFromFile(t *testing.T) {
	t.Run("defaults fill the gaps the file leaves", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yml")
		require.NoError(t, os.WriteFile(path, []byte(`
RPC:
  Port: 9090
Backend:
  SecretKey: not-a-dev-key
  RateLimit:
    chat_message:
      Limit: 10
      WindowSeconds: 30
Mongo:
  ConnectionURI: mongodb://localhost:27017
`), 0o600))

		conf, err := server.NewConfigFromFile(path)
		require.NoError(t, err)
		require.NoError(t, conf.Validate())

		assert.Equal(t, 9090, conf.RPC.Port)
		assert.Equal(t, server.DefaultProfilingPort, conf.Profiling.Port)
		assert.Equal(t, "not-a-dev-key", conf.Backend.SecretKey)
		assert.Equal(t, server.DefaultMongoDatabase, conf.Mongo.Database)
		assert.Equal(t, 10, conf.Backend.RateLimit["chat_message"].Limit)
		assert.Equal(t, "localhost:9090", conf.RPCAddr())
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := server.NewConfigFromFile(filepath.Join(t.TempDir(), "absent.yml"))
		assert.Error(t, err)
	})

	t.Run("default config validates", func(t *testing.T) {
		conf := server.NewConfig()
		assert.NoError(t, conf.Validate())
		assert.Nil(t, conf.Mongo)
	})

	t.Run("invalid port fails validation", func(t *testing.T) {
		conf := server.NewConfig()
		conf.RPC.Port = -1
		assert.Error(t, conf.Validate())
	})

	t.Run("rate limit rule without a window fails validation", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yml")
		require.NoError(t, os.WriteFile(path, []byte(`
Backend:
  RateLimit:
    chat_message:
      Limit: 10
`), 0o600))

		conf, err := server.NewConfigFromFile(path)
		require.NoError(t, err)
		assert.Error(t, conf.Validate())
	})
}
