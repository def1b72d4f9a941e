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
	gosync "sync"
	gotime "time"

	"github.com/gorilla/websocket"
)

const (
	// maxMessageSize bounds inbound frames.
	maxMessageSize = 64 << 10

	// sendBufferSize is the number of outbound frames queued per
	// connection before it counts as unresponsive.
	sendBufferSize = 256

	writeTimeout = 10 * gotime.Second
	pongTimeout  = 60 * gotime.Second
	pingPeriod   = (pongTimeout * 9) / 10
)

// wsConn adapts a websocket connection to the hub. Outbound frames go
// through a bounded queue drained by a single writer goroutine, so the
// hub's fan-out never blocks on a slow peer: when the queue is full the
// write fails and the hub evicts the connection.
type wsConn struct {
	raw    *websocket.Conn
	sendCh chan []byte

	closeOnce gosync.Once
	done      chan struct{}
}

// newWSConn wraps the given websocket connection and starts its writer.
func newWSConn(raw *websocket.Conn) *wsConn {
	c := &wsConn{
		raw:    raw,
		sendCh: make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}

	raw.SetReadLimit(maxMessageSize)
	_ = raw.SetReadDeadline(gotime.Now().Add(pongTimeout))
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(gotime.Now().Add(pongTimeout))
	})

	go c.writeLoop()
	return c
}

// WriteMessage enqueues the given frame for delivery. It fails when the
// connection is closed or its queue is full; it never blocks.
func (c *wsConn) WriteMessage(data []byte) error {
	select {
	case <-c.done:
		return fmt.Errorf("connection closed")
	default:
	}

	select {
	case c.sendCh <- data:
		return nil
	case <-c.done:
		return fmt.Errorf("connection closed")
	default:
		return fmt.Errorf("send queue full")
	}
}

// Close stops the writer and closes the underlying connection.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.raw.Close()
	})
	return err
}

// ReadMessage reads the next inbound frame.
func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.raw.ReadMessage()
	return data, err
}

// writeLoop drains the send queue and keeps the connection alive with
// pings. All writes to the peer happen on this goroutine.
func (c *wsConn) writeLoop() {
	ticker := gotime.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.sendCh:
			_ = c.raw.SetWriteDeadline(gotime.Now().Add(writeTimeout))
			if err := c.raw.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.Close()
				return
			}
		case <-ticker.C:
			_ = c.raw.SetWriteDeadline(gotime.Now().Add(writeTimeout))
			if err := c.raw.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		case <-c.done:
			_ = c.raw.SetWriteDeadline(gotime.Now().Add(writeTimeout))
			_ = c.raw.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			)
			return
		}
	}
}
