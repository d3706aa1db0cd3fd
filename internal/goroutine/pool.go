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

// Package goroutine wraps a bounded ants pool for the short-lived,
// independent per-connection tasks a transport hands off (accepting a
// TCP connection, upgrading a WebSocket), so a burst of new
// connections can't spawn an unbounded number of goroutines. It is
// deliberately not used for per-subscriber broadcast delivery: that
// needs FIFO order preserved per subscriber, which a shared pool of
// concurrent workers cannot guarantee.
package goroutine

import (
	"github.com/panjf2000/ants/v2"
	"github.com/yunqi/mqttcore/internal/xlog"
	"go.uber.org/zap"
)

// DefaultPoolSize is the capacity of the accept/upgrade dispatch pool.
const DefaultPoolSize = 1 << 12

var (
	log  = xlog.LoggerModule("goroutine")
	pool *ants.Pool
)

func init() {
	p, err := ants.NewPool(DefaultPoolSize, ants.WithPanicHandler(func(i interface{}) {
		log.Error("recovered panic in pooled task", zap.Any("panic", i))
	}))
	if err != nil {
		// A bounded worker pool is an optimization, not a correctness
		// requirement; if it can't be constructed, fall back to
		// unbounded goroutines rather than failing startup.
		pool = nil
		log.Warn("ants pool init failed, falling back to unbounded goroutines", zap.Error(err))
		return
	}
	pool = p
}

// Go runs f on the pool. While the pool is at capacity, Submit blocks
// the caller until a worker frees up. f runs on a plain goroutine only
// when the pool could not be constructed or Submit returns an error.
func Go(f func()) {
	if pool == nil {
		go f()
		return
	}
	if err := pool.Submit(f); err != nil {
		go f()
	}
}

// Resize adjusts the pool's capacity, e.g. from loaded configuration.
func Resize(size int) {
	if pool != nil {
		pool.Tune(size)
	}
}
