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

package rpc

import (
	"fmt"
	"os"
)

// Config is the configuration of the rpc server.
type Config struct {
	// Port is the port to listen on.
	Port int `yaml:"Port"`

	// CertFile is the path to the TLS certificate. When empty the server
	// speaks plain HTTP.
	CertFile string `yaml:"CertFile"`

	// KeyFile is the path to the TLS private key.
	KeyFile string `yaml:"KeyFile"`
}

// Validate validates this config.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("must be between 1 and 65535, given %d: invalid RPC Port", c.Port)
	}

	if c.CertFile != "" {
		if _, err := os.Stat(c.CertFile); err != nil {
			return fmt.Errorf("RPC CertFile %s: %w", c.CertFile, err)
		}
	}
	if c.KeyFile != "" {
		if _, err := os.Stat(c.KeyFile); err != nil {
			return fmt.Errorf("RPC KeyFile %s: %w", c.KeyFile, err)
		}
	}

	return nil
}
