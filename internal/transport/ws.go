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
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yunqi/mqttcore/internal/broker"
	"github.com/yunqi/mqttcore/internal/goroutine"
	"github.com/yunqi/mqttcore/internal/xlog"
	"go.uber.org/zap"
)

// wsStream adapts a gorilla/websocket connection, which is
// message-framed, onto the plain io.ReadWriter byte stream ReadFrame
// expects: every MQTT frame is carried as one binary websocket
// message, but a frame may be read across several Read calls, so
// leftover bytes from a message are buffered between calls.
type wsStream struct {
	c       *websocket.Conn
	pending []byte
}

func (w *wsStream) Read(p []byte) (int, error) {
	for len(w.pending) == 0 {
		msgType, data, err := w.c.ReadMessage()
		if err != nil {
			return 0, err
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		w.pending = data
	}
	n := copy(p, w.pending)
	w.pending = w.pending[n:]
	return n, nil
}

func (w *wsStream) Write(p []byte) (int, error) {
	if err := w.c.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsStream) SetReadDeadline(t time.Time) error { return w.c.SetReadDeadline(t) }
func (w *wsStream) Close() error                      { return w.c.Close() }

// WebSocket serves MQTT-over-WebSocket on a single HTTP path, using
// the "mqtt" subprotocol per the MQTT-over-WebSocket convention.
type WebSocket struct {
	Addr   string
	Path   string
	Broker *broker.Broker

	upgrader websocket.Upgrader
	srv      *http.Server
	log      *xlog.Log
}

// NewWebSocket builds a WebSocket transport bound to addr, serving
// MQTT frames on path.
func NewWebSocket(addr, path string, b *broker.Broker) *WebSocket {
	return &WebSocket{
		Addr:   addr,
		Path:   path,
		Broker: b,
		upgrader: websocket.Upgrader{
			Subprotocols:    []string{"mqtt", "mqttv3.1"},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: xlog.LoggerModule("transport.ws"),
	}
}

// ListenAndServe blocks serving WebSocket upgrades until the server
// is closed.
func (w *WebSocket) ListenAndServe() error {
	mux := http.NewServeMux()
	mux.HandleFunc(w.Path, w.handleUpgrade)
	w.srv = &http.Server{Addr: w.Addr, Handler: mux}
	w.log.Info("listening", zap.String("addr", w.Addr), zap.String("path", w.Path))
	err := w.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (w *WebSocket) handleUpgrade(rw http.ResponseWriter, r *http.Request) {
	wsConn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.log.Debug("upgrade", zap.Error(err))
		return
	}
	stream := &wsStream{c: wsConn}
	c := &conn{stream: stream, h: w.Broker.NewHandler(), b: w.Broker, log: w.log}
	goroutine.Go(c.serve)
}

// Close stops accepting new WebSocket upgrades.
func (w *WebSocket) Close() error {
	if w.srv == nil {
		return nil
	}
	return w.srv.Close()
}

var _ io.ReadWriter = (*wsStream)(nil)
