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

// Package transport adapts byte-stream connections (plain TCP,
// WebSocket) onto a Handler's event loop: read one frame, feed it in
// as an InputEvent, write back whatever Response the Handler returns,
// and translate connection loss into an abnormal ExitEvent so the will
// gets delivered.
package transport

import (
	"net"
	"time"

	"github.com/bytedance/gopkg/lang/fastrand"
	"github.com/yunqi/mqttcore/internal/broker"
	"github.com/yunqi/mqttcore/internal/goroutine"
	"github.com/yunqi/mqttcore/internal/xlog"
	"go.uber.org/zap"
)

// TCP is a plain-TCP MQTT listener. One Handler is built per accepted
// connection from the shared Broker.
type TCP struct {
	Addr   string
	Broker *broker.Broker

	ln  net.Listener
	log *xlog.Log
}

// NewTCP builds a TCP listener bound to addr, dispatching every
// accepted connection to a Handler from b.
func NewTCP(addr string, b *broker.Broker) *TCP {
	return &TCP{Addr: addr, Broker: b, log: xlog.LoggerModule("transport.tcp")}
}

// ListenAndServe binds addr and runs the accept loop until the
// listener is closed. A Temporary accept error backs off with jitter
// instead of a fixed doubling delay, so many listeners recovering from
// the same transient condition (e.g. an fd-limit blip) don't retry in
// lockstep.
func (t *TCP) ListenAndServe() error {
	ln, err := net.Listen("tcp", t.Addr)
	if err != nil {
		return err
	}
	t.ln = ln
	t.log.Info("listening", zap.String("addr", t.Addr))
	return t.serve()
}

func (t *TCP) serve() error {
	defer func() {
		if err := t.ln.Close(); err != nil {
			t.log.Error("listener close", zap.Error(err))
		}
	}()

	const baseDelay = 5 * time.Millisecond
	const maxDelay = 1 * time.Second
	var tempDelay time.Duration

	for {
		conn, err := t.ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				if tempDelay == 0 {
					tempDelay = baseDelay
				} else {
					tempDelay *= 2
					if tempDelay > maxDelay {
						tempDelay = maxDelay
					}
				}
				jitter := time.Duration(fastrand.Intn(int(tempDelay/2))) + tempDelay/2
				t.log.Warn("temporary accept error, backing off", zap.Error(err), zap.Duration("delay", jitter))
				time.Sleep(jitter)
				continue
			}
			return err
		}
		tempDelay = 0

		c := newConn(conn, t.Broker, t.log)
		goroutine.Go(c.serve)
	}
}

// Close stops accepting new connections.
func (t *TCP) Close() error {
	if t.ln == nil {
		return nil
	}
	return t.ln.Close()
}
