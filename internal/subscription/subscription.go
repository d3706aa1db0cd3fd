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

// Package subscription is the process-wide topic filter -> subscriber
// registry (SUBSCRIPT in the broker this package is modeled on): it
// fans a published message out to every matching subscriber's
// outbound channel, and carries will-message delivery on abnormal
// disconnect.
package subscription

import (
	"sync"

	"github.com/chenquan/go-pkg/container/syncx"
	"github.com/yunqi/mqttcore/internal/packet"
	"github.com/yunqi/mqttcore/internal/xlog"
	"go.uber.org/zap"
)

// Content is the payload of a broadcast: what PUBLISH carries, plus
// the routing metadata the registry and handler need.
type Content struct {
	FromClientID string
	Topic        string
	QoS          packet.QoS
	Retain       bool
	Dup          bool
	MessageID    uint16 // only meaningful when QoS > 0
	Payload      []byte
}

// BroadcastEvent is posted to a subscriber's event channel by
// Broadcast. The Handler reading it drops it if FromClientID equals
// its own session's client id (no self-echo).
type BroadcastEvent struct {
	FromClientID string
	Content      Content
}

// Sender is the destination a subscriber registers: its Handler's
// inbound event channel. It is looked up by client id at broadcast
// time rather than captured, so the registry never holds a reference
// that would keep a terminated Handler's goroutine alive.
type Sender interface {
	SendEvent(ev interface{})
}

// Dispatcher runs one subscriber delivery. The default is a direct
// call (ordered, blocking), and Broker keeps that default so each
// subscriber receives messages in the order Broadcast is called.
type Dispatcher func(send func())

func directDispatch(send func()) { send() }

type filterEntry struct {
	mu   sync.RWMutex
	subs map[string]packet.QoS // client id -> granted qos
}

// Registry is the process-wide subscription table.
type Registry struct {
	filters  syncx.Map[string, *filterEntry]
	handlers syncx.Map[string, Sender]

	dispatch Dispatcher
	log      *xlog.Log
}

// New returns an empty registry using direct (synchronous) dispatch.
// Use WithDispatcher to hand it a pooled dispatcher.
func New() *Registry {
	return &Registry{dispatch: directDispatch, log: xlog.LoggerModule("subscription")}
}

// WithDispatcher overrides how each per-subscriber send is run.
func (r *Registry) WithDispatcher(d Dispatcher) *Registry {
	r.dispatch = d
	return r
}

// Subscribe registers clientID's interest in topicFilter at qos,
// recording sender as the channel to use for delivery. A repeat
// subscription by the same client to the same filter replaces the
// prior granted QoS.
func (r *Registry) Subscribe(topicFilter, clientID string, qos packet.QoS, sender Sender) {
	entry, _ := r.filters.LoadOrStore(topicFilter, &filterEntry{subs: make(map[string]packet.QoS)})
	entry.mu.Lock()
	entry.subs[clientID] = qos
	entry.mu.Unlock()
	r.handlers.Store(clientID, sender)
}

// Unsubscribe removes clientID's subscription to topicFilter, if any.
// Absence of the pair is not an error.
func (r *Registry) Unsubscribe(topicFilter, clientID string) {
	entry, ok := r.filters.Load(topicFilter)
	if !ok {
		return
	}
	entry.mu.Lock()
	delete(entry.subs, clientID)
	empty := len(entry.subs) == 0
	entry.mu.Unlock()
	if empty {
		r.filters.Delete(topicFilter)
	}
}

// IsSubscribed reports whether clientID is subscribed to topicFilter.
func (r *Registry) IsSubscribed(topicFilter, clientID string) bool {
	entry, ok := r.filters.Load(topicFilter)
	if !ok {
		return false
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	_, found := entry.subs[clientID]
	return found
}

// Contains reports whether topicFilter has any subscriber at all.
func (r *Registry) Contains(topicFilter string) bool {
	_, ok := r.filters.Load(topicFilter)
	return ok
}

// Broadcast delivers content to every subscriber whose filter matches
// topic, including the publisher's own subscription if it has one
// (the Handler is responsible for suppressing the self-echo using
// FromClientID). Per-destination ordering is preserved because each
// subscriber's send goes through that subscriber's single channel;
// across different subscribers no ordering is promised.
func (r *Registry) Broadcast(topic string, content Content) {
	recipients := make(map[string]packet.QoS)
	r.filters.Range(func(filter string, entry *filterEntry) bool {
		if !Match(filter, topic) {
			return true
		}
		entry.mu.RLock()
		for clientID, qos := range entry.subs {
			if existing, ok := recipients[clientID]; !ok || qos > existing {
				recipients[clientID] = qos
			}
		}
		entry.mu.RUnlock()
		return true
	})

	for clientID := range recipients {
		clientID := clientID
		sender, ok := r.handlers.Load(clientID)
		if !ok {
			// Stale id: the Handler already deregistered itself.
			// Dropped lazily, per design: no error surfaced to the
			// publisher.
			continue
		}
		r.dispatch(func() {
			defer func() {
				// A send to a Handler that exited between the Load
				// above and now should never panic (channels are
				// never closed), but guard anyway so one dead
				// recipient can't take the dispatcher goroutine down.
				if rec := recover(); rec != nil {
					r.log.Warn("recovered from panic delivering broadcast",
						zap.String("client_id", clientID), zap.Any("panic", rec))
				}
			}()
			sender.SendEvent(BroadcastEvent{FromClientID: content.FromClientID, Content: content})
		})
	}
}

// Exit removes every subscription and the live-channel registration
// for clientID; called on DISCONNECT and on transport error.
func (r *Registry) Exit(clientID string) {
	r.handlers.Delete(clientID)
	var empty []string
	r.filters.Range(func(filter string, entry *filterEntry) bool {
		entry.mu.Lock()
		delete(entry.subs, clientID)
		if len(entry.subs) == 0 {
			empty = append(empty, filter)
		}
		entry.mu.Unlock()
		return true
	})
	for _, filter := range empty {
		r.filters.Delete(filter)
	}
}
