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

package handler

import (
	"github.com/yunqi/mqttcore/internal/packet"
	"github.com/yunqi/mqttcore/internal/session"
)

// InputEvent is raw bytes read from the transport for this client,
// exactly one complete MQTT frame.
type InputEvent struct {
	Data []byte
}

// ExitEvent requests termination of this Handler. Will is true only
// for abnormal termination (transport read error, keep-alive
// timeout); a graceful DISCONNECT never sets it, per MQTT 3.1.1.
type ExitEvent struct {
	Will bool
}

// OutputEvent carries pre-encoded bytes for the transport to forward
// as-is, used by surrounding code (e.g. an admin command) to inject a
// response without going through the packet codec.
type OutputEvent struct {
	Data []byte
}

// Kind is the Handler's instruction to its transport after processing
// one event.
type Kind int

const (
	// None: continue, nothing to write.
	None Kind = iota
	// Response: write Data to the transport, then continue.
	Response
	// Exit: close the connection. Data is always empty; a packet that
	// must be answered before closing is sent as its own Response
	// outcome first, with termination queued as a follow-up ExitEvent.
	Exit
)

func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case Response:
		return "response"
	case Exit:
		return "exit"
	default:
		return "unknown"
	}
}

// Outcome is what HandleEvent returns for one processed event.
type Outcome struct {
	Kind Kind
	Data []byte
}

// Observer is the optional extension point invoked after the Handler
// updates session state and before HandleEvent returns its Outcome.
// decoded is nil for anything other than an InputEvent that decoded
// successfully.
type Observer func(view session.View, decoded *packet.Decoded)
