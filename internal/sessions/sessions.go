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

// Package sessions is the process-wide registry of live client ids,
// used only to implement take-over: a new CONNECT with an already
// live client id evicts the older Handler. It stores no message
// state and is distinct from the subscription registry, whose
// membership is "clients with at least one subscription", not "all
// live clients".
package sessions

import (
	"github.com/chenquan/go-pkg/container/syncx"
)

// Sender is the destination a live client registers: its Handler's
// inbound event channel. Matches subscription.Sender's shape so a
// Handler can satisfy both with one method set.
type Sender interface {
	SendEvent(ev interface{})
}

// Registry maps client id to the Sender of whichever Handler currently
// owns that id.
type Registry struct {
	live syncx.Map[string, Sender]
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// Register records sender as the live owner of clientID and returns
// the previous owner, if any, so the caller can evict it.
func (r *Registry) Register(clientID string, sender Sender) (previous Sender, existed bool) {
	previous, existed = r.live.Load(clientID)
	r.live.Store(clientID, sender)
	return previous, existed
}

// Unregister removes clientID's entry, but only when sender is still
// the registered owner: a Handler that already lost a take-over race
// must not clobber the new owner's registration when it unwinds.
func (r *Registry) Unregister(clientID string, sender Sender) {
	current, ok := r.live.Load(clientID)
	if !ok || current != sender {
		return
	}
	r.live.Delete(clientID)
}

// Get returns the live Sender for clientID, if any.
func (r *Registry) Get(clientID string) (Sender, bool) {
	return r.live.Load(clientID)
}
