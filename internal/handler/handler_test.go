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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yunqi/mqttcore/internal/auth"
	"github.com/yunqi/mqttcore/internal/code"
	"github.com/yunqi/mqttcore/internal/inflight"
	"github.com/yunqi/mqttcore/internal/packet"
	"github.com/yunqi/mqttcore/internal/session"
	"github.com/yunqi/mqttcore/internal/sessions"
	"github.com/yunqi/mqttcore/internal/subscription"
)

type harness struct {
	deps Deps
}

func newHarness() *harness {
	return &harness{deps: Deps{
		Subscriptions: subscription.New(),
		Inflight:      inflight.New(),
		Sessions:      sessions.New(),
		Authorizer:    auth.AllowAll{},
	}}
}

func (h *harness) newHandler() *Handler {
	return New(session.New(), h.deps)
}

func connect(t *testing.T, h *Handler, clientID string, clean bool) *packet.Connack {
	t.Helper()
	c := &packet.Connect{
		Version: packet.Version4, ProtocolName: "MQTT", ProtocolLevel: 4,
		ConnectFlags: packet.ConnectFlags{CleanSession: clean},
		ClientID:     clientID,
	}
	body, err := c.Encode()
	require.NoError(t, err)
	out := h.HandleEvent(context.Background(), InputEvent{Data: body})
	require.Equal(t, Response, out.Kind)
	ack, err := packet.DecodeConnack(out.Data[2:])
	require.NoError(t, err)
	return ack
}

func TestConnectAcceptsAndEstablishesSession(t *testing.T) {
	hs := newHarness()
	h := hs.newHandler()
	ack := connect(t, h, "a", true)
	assert.Equal(t, code.Success, ack.Code)
	assert.True(t, h.Session().IsEstablished())
	assert.Equal(t, "a", h.Session().GetClientID())
}

func TestFirstPacketMustBeConnect(t *testing.T) {
	hs := newHarness()
	h := hs.newHandler()
	out := h.HandleEvent(context.Background(), InputEvent{Data: packet.EncodePingreq()})
	assert.Equal(t, Exit, out.Kind)
	assert.Equal(t, session.Terminated, h.Session().State())
}

func TestUnacceptableProtocolVersionRespondsThenSelfExits(t *testing.T) {
	hs := newHarness()
	h := hs.newHandler()
	c := &packet.Connect{Version: 9, ProtocolName: "bogus", ProtocolLevel: 9, ClientID: "a"}
	body, err := c.Encode()
	require.NoError(t, err)

	out := h.HandleEvent(context.Background(), InputEvent{Data: body})
	require.Equal(t, Response, out.Kind)
	ack, err := packet.DecodeConnack(out.Data[2:])
	require.NoError(t, err)
	assert.Equal(t, code.UnacceptableProtocolVersion, ack.Code)

	select {
	case ev := <-h.Session().Events():
		exitEv, ok := ev.(ExitEvent)
		require.True(t, ok)
		assert.False(t, exitEv.Will)
		out = h.HandleEvent(context.Background(), exitEv)
		assert.Equal(t, Exit, out.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected a self-queued ExitEvent")
	}
}

func TestSubscribeThenPublishQoS0Delivers(t *testing.T) {
	hs := newHarness()
	a := hs.newHandler()
	b := hs.newHandler()
	connect(t, a, "a", true)
	connect(t, b, "b", true)

	sub := &packet.Subscribe{MessageID: 1, Filters: []packet.SubscribeFilter{{Topic: "room/1", QoS: packet.QoS0}}}
	out := a.HandleEvent(context.Background(), InputEvent{Data: sub.Encode()})
	require.Equal(t, Response, out.Kind)
	suback, err := packet.DecodeSuback(out.Data[2:])
	require.NoError(t, err)
	assert.Equal(t, []packet.QoS{packet.QoS0}, suback.Codes)

	pub := &packet.Publish{QoS: packet.QoS0, Topic: "room/1", Payload: []byte("hi")}
	out = b.HandleEvent(context.Background(), InputEvent{Data: pub.Encode()})
	assert.Equal(t, None, out.Kind)

	select {
	case ev := <-a.Session().Events():
		bcast, ok := ev.(subscription.BroadcastEvent)
		require.True(t, ok)
		out = a.HandleEvent(context.Background(), bcast)
		require.Equal(t, Response, out.Kind)
		delivered, err := packet.Decode(out.Data)
		require.NoError(t, err)
		require.NotNil(t, delivered.Publish)
		assert.Equal(t, []byte("hi"), delivered.Publish.Payload)
	case <-time.After(time.Second):
		t.Fatal("A never received the broadcast")
	}
}

func TestPublishNeverLoopsBackToOriginator(t *testing.T) {
	hs := newHarness()
	a := hs.newHandler()
	connect(t, a, "a", true)
	sub := &packet.Subscribe{MessageID: 1, Filters: []packet.SubscribeFilter{{Topic: "room/1", QoS: packet.QoS0}}}
	a.HandleEvent(context.Background(), InputEvent{Data: sub.Encode()})

	pub := &packet.Publish{QoS: packet.QoS0, Topic: "room/1", Payload: []byte("hi")}
	a.HandleEvent(context.Background(), InputEvent{Data: pub.Encode()})

	select {
	case ev := <-a.Session().Events():
		out := a.HandleEvent(context.Background(), ev)
		assert.Equal(t, None, out.Kind) // dropped: self-echo
	case <-time.After(50 * time.Millisecond):
		// also acceptable: no event was even posted
	}
}

func TestQoS1PublishAcksOrigin(t *testing.T) {
	hs := newHarness()
	b := hs.newHandler()
	connect(t, b, "b", true)

	pub := &packet.Publish{QoS: packet.QoS1, Topic: "t", MessageID: 7, Payload: []byte("x")}
	out := b.HandleEvent(context.Background(), InputEvent{Data: pub.Encode()})
	require.Equal(t, Response, out.Kind)
	puback, err := packet.DecodePuback(out.Data[2:])
	require.NoError(t, err)
	assert.Equal(t, uint16(7), puback.MessageID)
}

func TestQoS2HandshakeDeliversExactlyOnceAcrossDuplicate(t *testing.T) {
	hs := newHarness()
	a := hs.newHandler()
	b := hs.newHandler()
	connect(t, a, "a", true)
	connect(t, b, "b", true)
	sub := &packet.Subscribe{MessageID: 1, Filters: []packet.SubscribeFilter{{Topic: "t", QoS: packet.QoS2}}}
	a.HandleEvent(context.Background(), InputEvent{Data: sub.Encode()})

	pub := &packet.Publish{QoS: packet.QoS2, Topic: "t", MessageID: 9, Payload: []byte("y")}
	out := b.HandleEvent(context.Background(), InputEvent{Data: pub.Encode()})
	require.Equal(t, Response, out.Kind)
	pubrec, err := packet.DecodePubrec(out.Data[2:])
	require.NoError(t, err)
	assert.Equal(t, uint16(9), pubrec.MessageID)

	// Duplicate PUBLISH retransmit before PUBREL: must overwrite, not
	// duplicate, the pending inflight entry.
	dup := &packet.Publish{QoS: packet.QoS2, Dup: true, Topic: "t", MessageID: 9, Payload: []byte("y")}
	out = b.HandleEvent(context.Background(), InputEvent{Data: dup.Encode()})
	require.Equal(t, Response, out.Kind)

	rel := &packet.Pubrel{MessageID: 9}
	out = b.HandleEvent(context.Background(), InputEvent{Data: rel.Encode()})
	require.Equal(t, Response, out.Kind)
	pubcomp, err := packet.DecodePubcomp(out.Data[2:])
	require.NoError(t, err)
	assert.Equal(t, uint16(9), pubcomp.MessageID)

	// A should receive exactly one broadcast, never two.
	delivered := 0
	for {
		select {
		case ev := <-a.Session().Events():
			out := a.HandleEvent(context.Background(), ev)
			if out.Kind == Response {
				delivered++
			}
		case <-time.After(50 * time.Millisecond):
			assert.Equal(t, 1, delivered)
			return
		}
	}
}

func TestDisconnectDoesNotSendWill(t *testing.T) {
	hs := newHarness()
	a := hs.newHandler()
	b := hs.newHandler()
	connect(t, b, "b", true)

	willConnect := &packet.Connect{
		Version: packet.Version4, ProtocolName: "MQTT", ProtocolLevel: 4,
		ConnectFlags: packet.ConnectFlags{CleanSession: true, WillFlag: true, WillQoS: packet.QoS0},
		ClientID:     "a", WillTopic: "bye", WillMessage: []byte("gone"),
	}
	body, err := willConnect.Encode()
	require.NoError(t, err)
	a.HandleEvent(context.Background(), InputEvent{Data: body})

	sub := &packet.Subscribe{MessageID: 1, Filters: []packet.SubscribeFilter{{Topic: "bye", QoS: packet.QoS0}}}
	b.HandleEvent(context.Background(), InputEvent{Data: sub.Encode()})

	out := a.HandleEvent(context.Background(), InputEvent{Data: packet.EncodeDisconnect()})
	assert.Equal(t, Exit, out.Kind)

	select {
	case <-b.Session().Events():
		t.Fatal("graceful DISCONNECT must not send the will")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAbnormalExitSendsWillExactlyOnce(t *testing.T) {
	hs := newHarness()
	a := hs.newHandler()
	b := hs.newHandler()
	connect(t, b, "b", true)

	willConnect := &packet.Connect{
		Version: packet.Version4, ProtocolName: "MQTT", ProtocolLevel: 4,
		ConnectFlags: packet.ConnectFlags{CleanSession: true, WillFlag: true, WillQoS: packet.QoS0},
		ClientID:     "a", WillTopic: "bye", WillMessage: []byte("gone"),
	}
	body, err := willConnect.Encode()
	require.NoError(t, err)
	a.HandleEvent(context.Background(), InputEvent{Data: body})

	sub := &packet.Subscribe{MessageID: 1, Filters: []packet.SubscribeFilter{{Topic: "bye", QoS: packet.QoS0}}}
	b.HandleEvent(context.Background(), InputEvent{Data: sub.Encode()})

	out := a.HandleEvent(context.Background(), ExitEvent{Will: true})
	assert.Equal(t, Exit, out.Kind)

	select {
	case ev := <-b.Session().Events():
		bcast, ok := ev.(subscription.BroadcastEvent)
		require.True(t, ok)
		assert.Equal(t, []byte("gone"), bcast.Content.Payload)
	case <-time.After(time.Second):
		t.Fatal("B never received the will message")
	}
}

func TestTakeOverEvictsPreviousHandler(t *testing.T) {
	hs := newHarness()
	first := hs.newHandler()
	connect(t, first, "a", false)

	second := hs.newHandler()
	connect(t, second, "a", false)

	select {
	case ev := <-first.Session().Events():
		exitEv, ok := ev.(ExitEvent)
		require.True(t, ok)
		assert.False(t, exitEv.Will)
	case <-time.After(time.Second):
		t.Fatal("first handler was never evicted")
	}
}

func TestPingreqGetsPingresp(t *testing.T) {
	hs := newHarness()
	a := hs.newHandler()
	connect(t, a, "a", true)
	out := a.HandleEvent(context.Background(), InputEvent{Data: packet.EncodePingreq()})
	require.Equal(t, Response, out.Kind)
	decoded, err := packet.Decode(out.Data)
	require.NoError(t, err)
	assert.True(t, decoded.Pingresp)
}

func TestUnsubscribeAlwaysAcks(t *testing.T) {
	hs := newHarness()
	a := hs.newHandler()
	connect(t, a, "a", true)
	unsub := &packet.Unsubscribe{MessageID: 3, Topic: "never-subscribed"}
	out := a.HandleEvent(context.Background(), InputEvent{Data: unsub.Encode()})
	require.Equal(t, Response, out.Kind)
	ack, err := packet.DecodeUnsuback(out.Data[2:])
	require.NoError(t, err)
	assert.Equal(t, uint16(3), ack.MessageID)
}
