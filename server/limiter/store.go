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

package limiter

import (
	"context"
	gotime "time"
)

// Store counts attempts per key over a sliding window.
type Store interface {
	// CheckAndRecord reports whether one more attempt fits under the
	// limit and records it if it does. It returns the number of attempts
	// in the window including the new one when admitted, or the number
	// that caused the rejection. Rejected attempts are not recorded.
	CheckAndRecord(
		ctx context.Context,
		key string,
		limit int,
		window gotime.Duration,
	) (bool, int, error)

	// Close closes the store.
	Close() error
}
