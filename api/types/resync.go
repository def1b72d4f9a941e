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

// ResyncResponse is the ordered tail of a document's operation log, used
// by a client catching up after reconnect without re-fetching content.
type ResyncResponse struct {
	DocumentID string       `json:"document_id"`
	Version    int64        `json:"version"`
	Operations []*Operation `json:"operations"`
}

// RateLimitInfo describes a rate-limit decision to an HTTP caller so it
// can back off appropriately.
type RateLimitInfo struct {
	Detail  string `json:"detail"`
	Limit   int    `json:"limit"`
	Window  int    `json:"window"`
	Current int    `json:"current"`
}
