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

// Package session holds per-client MQTT state: the data a Handler
// needs across the lifetime of one connection.
package session

import (
	"sync"

	"github.com/yunqi/mqttcore/internal/packet"
)

// State is the session's place in the CONNECT handshake lifecycle.
type State int

const (
	Uninitialized State = iota
	Established
	Terminated
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Established:
		return "established"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// EventSenderCapacity is the outbound channel buffer size; a slow
// subscriber applies backpressure to its publishers rather than
// having messages silently dropped.
const EventSenderCapacity = 512

// Session is one connected (or disconnecting) client's MQTT state.
// The owning Handler has exclusive write access; other goroutines
// only ever read through the accessor methods or send on Events().
type Session struct {
	mu    sync.RWMutex
	state State

	clientID      string
	protocolName  string
	protocolLevel packet.Version

	cleanSession   bool
	cleanSessionOK bool // whether CleanSession has been set at all

	willFlag    bool
	willQoS     packet.QoS
	willRetain  bool
	willTopic   string
	willMessage []byte

	username string
	password string

	keepAlive uint16

	sender chan interface{}
}

// New creates an uninitialized session attached to an outbound event
// channel of capacity EventSenderCapacity.
func New() *Session {
	return &Session{
		sender: make(chan interface{}, EventSenderCapacity),
		state:  Uninitialized,
	}
}

// Events returns the channel a Handler should read from.
func (s *Session) Events() <-chan interface{} {
	return s.sender
}

// SendEvent enqueues ev on the outbound channel. It blocks if the
// channel is full: backpressure, not drop.
func (s *Session) SendEvent(ev interface{}) {
	s.sender <- ev
}

// TrySendEvent attempts a non-blocking send and reports whether the
// event was enqueued.
func (s *Session) TrySendEvent(ev interface{}) bool {
	select {
	case s.sender <- ev:
		return true
	default:
		return false
	}
}

// InitProtocol records the CONNECT protocol name/level. Idempotent.
func (s *Session) InitProtocol(name string, level packet.Version) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.protocolName = name
	s.protocolLevel = level
}

// Init transitions the session from Uninitialized to Established,
// recording all CONNECT-derived fields.
func (s *Session) Init(clientID string, willFlag bool, willQoS packet.QoS, willRetain bool,
	willTopic string, willMessage []byte, keepAlive uint16, cleanSession bool,
	username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientID = clientID
	s.willFlag = willFlag
	s.willQoS = willQoS
	s.willRetain = willRetain
	s.willTopic = willTopic
	s.willMessage = willMessage
	s.keepAlive = keepAlive
	s.cleanSession = cleanSession
	s.cleanSessionOK = true
	s.username = username
	s.password = password
	s.state = Established
}

// Terminate moves the session to Terminated. Idempotent.
func (s *Session) Terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Terminated
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) IsEstablished() bool { return s.State() == Established }

func (s *Session) GetClientID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientID
}

func (s *Session) ProtocolLevel() packet.Version {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.protocolLevel
}

func (s *Session) ProtocolName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.protocolName
}

func (s *Session) IsWillFlag() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.willFlag
}

func (s *Session) GetWillTopic() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.willTopic
}

func (s *Session) GetWillMessage() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.willMessage
}

func (s *Session) WillQoS() packet.QoS {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.willQoS
}

func (s *Session) WillRetain() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.willRetain
}

func (s *Session) CleanSession() (value bool, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cleanSession, s.cleanSessionOK
}

func (s *Session) KeepAlive() uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keepAlive
}

func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// View is a read-only snapshot of session state, handed to the
// optional Handler observer callback so it cannot mutate the live
// session.
type View struct {
	ClientID      string
	ProtocolLevel packet.Version
	CleanSession  bool
	State         State
}

func (s *Session) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return View{
		ClientID:      s.clientID,
		ProtocolLevel: s.protocolLevel,
		CleanSession:  s.cleanSession,
		State:         s.state,
	}
}
