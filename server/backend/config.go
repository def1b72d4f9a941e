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

package backend

import (
	gotime "time"

	"github.com/collabd-team/collabd/pkg/errors"
	"github.com/collabd-team/collabd/server/limiter"
)

// RateLimitRule is the configured budget of one resource class.
type RateLimitRule struct {
	// Limit is the number of attempts admitted per window. Zero or
	// negative disables the class.
	Limit int `yaml:"Limit"`

	// WindowSeconds is the length of the sliding window in seconds.
	WindowSeconds int `yaml:"WindowSeconds"`
}

// Config is the configuration of the backend.
type Config struct {
	// SecretKey is the key used to verify the tokens clients present.
	SecretKey string `yaml:"SecretKey"`

	// RedisAddr is the address of the redis that shares rate-limit
	// counters between servers. When empty, counters are kept in
	// process.
	RedisAddr string `yaml:"RedisAddr"`

	// RedisPassword is the password of the redis.
	RedisPassword string `yaml:"RedisPassword"`

	// RedisDB is the database index of the redis.
	RedisDB int `yaml:"RedisDB"`

	// RateLimit overrides the admission budgets per resource class.
	RateLimit map[string]RateLimitRule `yaml:"RateLimit"`
}

// Validate validates this config.
func (c *Config) Validate() error {
	if c.SecretKey == "" {
		return errors.InvalidArgument("backend SecretKey must be set")
	}
	for class, rule := range c.RateLimit {
		if rule.Limit > 0 && rule.WindowSeconds <= 0 {
			return errors.InvalidArgument(
				"rate limit window of " + class + " must be positive",
			)
		}
	}
	return nil
}

// RateLimitRules returns the default budgets overlaid with the
// configured overrides.
func (c *Config) RateLimitRules() map[string]limiter.Rule {
	rules := limiter.DefaultRules()
	for class, rule := range c.RateLimit {
		rules[class] = limiter.Rule{
			Limit:  rule.Limit,
			Window: gotime.Duration(rule.WindowSeconds) * gotime.Second,
		}
	}
	return rules
}
