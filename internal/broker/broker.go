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

// Package broker is the single context constructed at startup that
// owns the process-wide registries and hands out a Handler per
// accepted connection. It exists so the registries and the
// authorization hook never need to be package-level globals: every
// collaborator is threaded through one value built in main.
package broker

import (
	"context"

	"github.com/yunqi/mqttcore/config"
	"github.com/yunqi/mqttcore/internal/auth"
	"github.com/yunqi/mqttcore/internal/handler"
	"github.com/yunqi/mqttcore/internal/inflight"
	"github.com/yunqi/mqttcore/internal/session"
	"github.com/yunqi/mqttcore/internal/sessions"
	"github.com/yunqi/mqttcore/internal/subscription"
	"github.com/yunqi/mqttcore/internal/xlog"
)

// Broker is the process-wide context: one Subscription Registry, one
// Inflight Store, one live-session take-over table, shared by every
// Handler for the life of the process.
type Broker struct {
	Subscriptions *subscription.Registry
	Inflight      *inflight.Store
	Sessions      *sessions.Registry

	authorizer auth.Authorizer
	observer   handler.Observer
	cfg        config.Mqtt
	log        *xlog.Log
}

// Option configures a Broker at construction time.
type Option func(*Broker)

// WithAuthorizer overrides the default AllowAll CONNECT authorizer.
func WithAuthorizer(a auth.Authorizer) Option {
	return func(b *Broker) { b.authorizer = a }
}

// WithObserver installs the Handler observer callback invoked after
// every processed event.
func WithObserver(o handler.Observer) Option {
	return func(b *Broker) { b.observer = o }
}

// WithMqttConfig attaches the broker-wide MQTT tuning knobs (keep-alive
// bounds, max packet size) transports consult when accepting
// connections.
func WithMqttConfig(cfg config.Mqtt) Option {
	return func(b *Broker) { b.cfg = cfg }
}

// New builds a Broker. Subscription delivery uses the registry's
// default direct dispatch: each subscriber's messages are sent
// synchronously, in the order Broadcast is called, so per-subscriber
// FIFO ordering and publisher backpressure both hold. Do not override
// this with a concurrent dispatcher such as a worker pool: two
// Broadcast calls for the same subscriber would then race onto that
// subscriber's channel in arbitrary order.
func New(opts ...Option) *Broker {
	b := &Broker{
		Subscriptions: subscription.New(),
		Inflight:      inflight.New(),
		Sessions:      sessions.New(),
		authorizer:    auth.AllowAll{},
		log:           xlog.LoggerModule("broker"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Config returns the MQTT tuning knobs a transport should honor.
func (b *Broker) Config() config.Mqtt { return b.cfg }

// NewHandler builds a Handler for one freshly accepted connection,
// wired to this Broker's shared registries.
func (b *Broker) NewHandler() *handler.Handler {
	return handler.New(session.New(), handler.Deps{
		Subscriptions: b.Subscriptions,
		Inflight:      b.Inflight,
		Sessions:      b.Sessions,
		Authorizer:    b.authorizer,
		Observer:      b.observer,
	})
}

// Shutdown logs the broker shutdown. It does not evict live sessions
// or send them ExitEvents, and it broadcasts no will messages.
func (b *Broker) Shutdown(ctx context.Context) {
	b.log.Info("broker shutting down")
}
