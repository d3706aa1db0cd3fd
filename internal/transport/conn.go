/*
 *    Copyright 2021 chenquan
 *
 *    Licensed under the Apache License, Version 2.0 (the "License");
 *    you may not use this file except in compliance with the License.
 *    You may obtain a copy of the License at
 *
 *        http://www.apache.org/licenses/LICENSE-2.0
 *
 *    Unless required by applicable law or agreed to in writing, software
 *    distributed under the License is distributed on an "AS IS" BASIS,
 *    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *    See the License for the specific language governing permissions and
 *    limitations under the License.
 */

package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/yunqi/mqttcore/internal/broker"
	"github.com/yunqi/mqttcore/internal/handler"
	"github.com/yunqi/mqttcore/internal/packet"
	"github.com/yunqi/mqttcore/internal/xlog"
	"go.uber.org/zap"
)

// byteStream is the minimum a transport adapter needs to expose: an
// ordered, reliable byte stream plus a way to tear it down. Both
// net.Conn and the gorilla/websocket wrapper in ws.go satisfy it.
type byteStream interface {
	io.ReadWriter
	SetReadDeadline(t time.Time) error
	Close() error
}

// conn owns one accepted connection. Two goroutines cooperate per the
// Handler's single-writer contract: the reader goroutine only ever
// enqueues events onto the session's channel via SendEvent, and
// Handler.Serve is the sole goroutine that calls HandleEvent and
// writes responses back.
type conn struct {
	stream byteStream
	h      *handler.Handler
	b      *broker.Broker
	log    *xlog.Log
}

func newConn(nc net.Conn, b *broker.Broker, log *xlog.Log) *conn {
	return &conn{stream: nc, h: b.NewHandler(), b: b, log: log}
}

// serve runs the connection until the peer disconnects or the Handler
// exits, then tears down the stream.
func (c *conn) serve() {
	ctx := context.Background()
	defer c.stream.Close()

	go c.readLoop()

	err := c.h.Serve(ctx, func(data []byte) error {
		_, werr := c.stream.Write(data)
		return werr
	})
	if err != nil {
		c.log.Debug("serve", zap.Error(err))
	}
}

// readLoop decodes frames off the wire and feeds them to the Handler
// as InputEvents; it never calls HandleEvent itself. A read error or
// idle-keepalive timeout is reported as an abnormal ExitEvent so the
// will message, if any, gets delivered.
func (c *conn) readLoop() {
	cfg := c.b.Config()
	keepAlive := cfg.MaxKeepAlive
	if keepAlive == 0 {
		keepAlive = 60
	}
	readTimeout := cfg.ReadTimeout(keepAlive)

	for {
		if readTimeout > 0 {
			_ = c.stream.SetReadDeadline(time.Now().Add(readTimeout))
		}
		frame, err := packet.ReadFrame(c.stream, cfg.MaxPacketSize)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.log.Debug("read frame", zap.Error(err))
			}
			c.h.SendEvent(handler.ExitEvent{Will: true})
			return
		}
		c.h.SendEvent(handler.InputEvent{Data: frame})
	}
}
