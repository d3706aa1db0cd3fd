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

// Package handler is the per-client event loop: one Handler per live
// connection, driving the CONNECT handshake, PUBLISH QoS 0/1/2,
// SUBSCRIBE/UNSUBSCRIBE, PINGREQ and DISCONNECT against a Session,
// the process-wide subscription registry and the process-wide
// inflight store.
package handler

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/yunqi/mqttcore/internal/auth"
	"github.com/yunqi/mqttcore/internal/code"
	"github.com/yunqi/mqttcore/internal/inflight"
	"github.com/yunqi/mqttcore/internal/packet"
	"github.com/yunqi/mqttcore/internal/session"
	"github.com/yunqi/mqttcore/internal/sessions"
	"github.com/yunqi/mqttcore/internal/subscription"
	"github.com/yunqi/mqttcore/internal/xerror"
	"github.com/yunqi/mqttcore/internal/xlog"
	"github.com/yunqi/mqttcore/internal/xtrace"
	"go.uber.org/zap"
)

// Deps are the process-wide collaborators a Handler needs. All are
// shared across every live Handler; none of them holds a strong
// reference back to a Handler that would block its teardown.
type Deps struct {
	Subscriptions *subscription.Registry
	Inflight      *inflight.Store
	Sessions      *sessions.Registry
	Authorizer    auth.Authorizer
	Observer      Observer
}

// Handler owns one Session exclusively and is the Sender the
// subscription and sessions registries deliver to.
type Handler struct {
	session *session.Session
	deps    Deps
	log     *xlog.Log

	idCounter uint32
}

// New builds a Handler around an uninitialized Session. deps.Authorizer
// defaults to auth.AllowAll when nil.
func New(sess *session.Session, deps Deps) *Handler {
	if deps.Authorizer == nil {
		deps.Authorizer = auth.AllowAll{}
	}
	return &Handler{session: sess, deps: deps, log: xlog.LoggerModule("handler")}
}

// Session returns the owned session, e.g. so a transport can read its
// outbound event channel.
func (h *Handler) Session() *session.Session { return h.session }

// SendEvent enqueues ev on the Handler's own session channel. It
// satisfies subscription.Sender and sessions.Sender, which is how the
// registries and take-over deliver events to a Handler without
// holding any other reference to it.
func (h *Handler) SendEvent(ev interface{}) { h.session.SendEvent(ev) }

// nextMessageID hands out packet identifiers for broker-originated
// PUBLISH packets (QoS 1/2 fan-out to this client), wrapping past 0
// since 0 is not a legal MQTT packet identifier.
func (h *Handler) nextMessageID() uint16 {
	for {
		v := atomic.AddUint32(&h.idCounter, 1)
		if id := uint16(v); id != 0 {
			return id
		}
	}
}

// HandleEvent processes exactly one event from the Handler's channel
// and reports what the transport should do next.
func (h *Handler) HandleEvent(ctx context.Context, ev interface{}) Outcome {
	var (
		outcome Outcome
		decoded *packet.Decoded
	)
	switch e := ev.(type) {
	case InputEvent:
		outcome, decoded = h.handleInput(ctx, e.Data)
	case subscription.BroadcastEvent:
		outcome = h.handleBroadcast(e)
	case ExitEvent:
		outcome = h.handleExit(e)
	case OutputEvent:
		outcome = Outcome{Kind: Response, Data: e.Data}
	default:
		h.log.Warn("unrecognized event type, ignoring")
		outcome = Outcome{Kind: None}
	}

	if h.deps.Observer != nil {
		h.deps.Observer(h.session.View(), decoded)
	}
	return outcome
}

func (h *Handler) handleInput(ctx context.Context, data []byte) (Outcome, *packet.Decoded) {
	decoded, err := packet.Decode(data)
	if err != nil {
		return h.handleDecodeError(err), nil
	}

	spanCtx, span := xtrace.StartPacket(ctx, decoded.Header.Type.String())
	defer span.End()

	switch h.session.State() {
	case session.Uninitialized:
		if decoded.Header.Type != packet.CONNECT {
			// [MQTT-3.1.0-1]: the first packet must be CONNECT.
			h.log.Debug("dropping connection", zap.Error(xerror.ErrFirstPacketNotConnect))
			h.session.Terminate()
			return Outcome{Kind: Exit}, decoded
		}
		return h.handleConnect(spanCtx, decoded.Connect), decoded
	case session.Established:
		return h.dispatchEstablished(decoded), decoded
	default: // Terminated
		return Outcome{Kind: Exit}, decoded
	}
}

func (h *Handler) handleDecodeError(err error) Outcome {
	switch {
	case errors.Is(err, xerror.ErrV3UnacceptableProtocolVersion):
		return h.terminateWithConnack(code.UnacceptableProtocolVersion)
	case errors.Is(err, xerror.ErrV3IdentifierRejected):
		return h.terminateWithConnack(code.IdentifierRejected)
	default:
		h.log.Debug("dropping connection on malformed packet", zap.Error(err))
		h.session.Terminate()
		return Outcome{Kind: Exit}
	}
}

// terminateWithConnack answers CONNECT with a rejecting CONNACK and
// queues this Handler's own termination, since a single HandleEvent
// call reports exactly one of Response or Exit, never both.
func (h *Handler) terminateWithConnack(c code.Code) Outcome {
	h.session.Terminate()
	ack := &packet.Connack{Code: c}
	h.session.SendEvent(ExitEvent{Will: false})
	return Outcome{Kind: Response, Data: ack.Encode()}
}

func (h *Handler) dispatchEstablished(decoded *packet.Decoded) Outcome {
	switch decoded.Header.Type {
	case packet.CONNECT:
		// A second CONNECT on an already-established session is a
		// protocol violation; close with no response.
		h.session.Terminate()
		return Outcome{Kind: Exit}
	case packet.PUBLISH:
		return h.handlePublish(decoded.Publish)
	case packet.PUBACK:
		return h.handlePuback(decoded.Puback)
	case packet.PUBREC:
		return h.handlePubrec(decoded.Pubrec)
	case packet.PUBREL:
		return h.handlePubrel(decoded.Pubrel)
	case packet.PUBCOMP:
		return h.handlePubcomp(decoded.Pubcomp)
	case packet.SUBSCRIBE:
		return h.handleSubscribe(decoded.Subscribe)
	case packet.UNSUBSCRIBE:
		return h.handleUnsubscribe(decoded.Unsubscribe)
	case packet.PINGREQ:
		return Outcome{Kind: Response, Data: packet.EncodePingresp()}
	case packet.DISCONNECT:
		return h.handleDisconnect()
	default:
		h.session.Terminate()
		return Outcome{Kind: Exit}
	}
}

func (h *Handler) handleConnect(ctx context.Context, c *packet.Connect) Outcome {
	authCode := h.deps.Authorizer.Authorize(ctx, auth.RequestFrom(c))
	if authCode != code.Success {
		if authCode == code.NotAuthorized {
			h.log.Debug("rejecting connect", zap.Error(xerror.ErrNotAuthorized))
		}
		return h.terminateWithConnack(authCode)
	}

	h.session.InitProtocol(c.ProtocolName, c.Version)
	h.session.Init(c.ClientID, c.WillFlag, c.WillQoS, c.WillRetain, c.WillTopic, c.WillMessage,
		c.KeepAlive, c.CleanSession, c.Username, c.Password)
	h.deps.Inflight.Init(c.ClientID)
	sessionReuse := h.deps.Inflight.Len(c.ClientID) > 0

	if previous, existed := h.deps.Sessions.Register(c.ClientID, h); existed && previous != nil {
		previous.SendEvent(ExitEvent{Will: false})
	}

	ack := c.NewConnackPacket(code.Success, sessionReuse)
	return Outcome{Kind: Response, Data: ack.Encode()}
}

func (h *Handler) handlePublish(p *packet.Publish) Outcome {
	clientID := h.session.GetClientID()
	switch p.QoS {
	case packet.QoS0:
		h.deps.Subscriptions.Broadcast(p.Topic, subscription.Content{
			FromClientID: clientID, Topic: p.Topic, QoS: p.QoS, Retain: p.Retain, Payload: p.Payload,
		})
		return Outcome{Kind: None}
	case packet.QoS1:
		h.deps.Subscriptions.Broadcast(p.Topic, subscription.Content{
			FromClientID: clientID, Topic: p.Topic, QoS: p.QoS, Retain: p.Retain, Payload: p.Payload, MessageID: p.MessageID,
		})
		ack := &packet.Puback{MessageID: p.MessageID}
		return Outcome{Kind: Response, Data: ack.Encode()}
	case packet.QoS2:
		h.deps.Inflight.Append(clientID, p.MessageID, inflight.Entry{
			FromClientID: clientID, Topic: p.Topic, Retain: p.Retain, Payload: p.Payload, MessageID: p.MessageID,
		})
		ack := &packet.Pubrec{MessageID: p.MessageID}
		return Outcome{Kind: Response, Data: ack.Encode()}
	default:
		h.session.Terminate()
		return Outcome{Kind: Exit}
	}
}

// handlePuback answers the broker's own QoS 1 PUBLISH being
// acknowledged by this client. QoS 1 keeps no pending-ack bookkeeping
// (only QoS 2 uses the inflight store), so there is nothing to clear.
func (h *Handler) handlePuback(*packet.Puback) Outcome {
	return Outcome{Kind: None}
}

// handlePubrec answers a PUBREC for a QoS 2 PUBLISH the broker sent
// to this client: reply PUBREL. The inflight entry is only cleared on
// PUBCOMP.
func (h *Handler) handlePubrec(p *packet.Pubrec) Outcome {
	ack := &packet.Pubrel{MessageID: p.MessageID}
	return Outcome{Kind: Response, Data: ack.Encode()}
}

// handlePubrel completes this client's incoming QoS 2 PUBLISH
// handshake: the content recorded on PUBLISH receipt is broadcast now,
// exactly once, even if the client retransmitted the original PUBLISH
// with DUP=1 before sending PUBREL.
func (h *Handler) handlePubrel(p *packet.Pubrel) Outcome {
	clientID := h.session.GetClientID()
	if entry, ok := h.deps.Inflight.Get(clientID, p.MessageID); ok && entry.ToClientID == "" {
		h.deps.Subscriptions.Broadcast(entry.Topic, subscription.Content{
			FromClientID: entry.FromClientID, Topic: entry.Topic, QoS: packet.QoS2, Retain: entry.Retain, Payload: entry.Payload,
		})
	}
	h.deps.Inflight.Complete(clientID, p.MessageID)
	ack := &packet.Pubcomp{MessageID: p.MessageID}
	return Outcome{Kind: Response, Data: ack.Encode()}
}

// handlePubcomp finishes a QoS 2 PUBLISH the broker sent to this
// client: clear the inflight entry, nothing to send back.
func (h *Handler) handlePubcomp(p *packet.Pubcomp) Outcome {
	h.deps.Inflight.Complete(h.session.GetClientID(), p.MessageID)
	return Outcome{Kind: None}
}

func (h *Handler) handleSubscribe(s *packet.Subscribe) Outcome {
	clientID := h.session.GetClientID()
	codes := make([]packet.QoS, len(s.Filters))
	for i, f := range s.Filters {
		if !subscription.ValidFilter(f.Topic) || !f.QoS.Valid() {
			codes[i] = packet.Failure
			continue
		}
		h.deps.Subscriptions.Subscribe(f.Topic, clientID, f.QoS, h)
		codes[i] = f.QoS
	}
	ack := &packet.Suback{MessageID: s.MessageID, Codes: codes}
	return Outcome{Kind: Response, Data: ack.Encode()}
}

func (h *Handler) handleUnsubscribe(u *packet.Unsubscribe) Outcome {
	clientID := h.session.GetClientID()
	if h.deps.Subscriptions.Contains(u.Topic) && h.deps.Subscriptions.IsSubscribed(u.Topic, clientID) {
		h.deps.Subscriptions.Unsubscribe(u.Topic, clientID)
	}
	ack := &packet.Unsuback{MessageID: u.MessageID}
	return Outcome{Kind: Response, Data: ack.Encode()}
}

func (h *Handler) handleDisconnect() Outcome {
	clientID := h.session.GetClientID()
	h.deps.Subscriptions.Exit(clientID)
	if clean, ok := h.session.CleanSession(); ok && clean {
		h.deps.Inflight.Remove(clientID)
	}
	h.deps.Sessions.Unregister(clientID, h)
	h.session.Terminate()
	// Graceful DISCONNECT never sends the will, per MQTT 3.1.1; only
	// an abnormal ExitEvent(will=true) does.
	return Outcome{Kind: Exit}
}

// handleBroadcast delivers a message arriving from the subscription
// registry. QoS 1 and QoS 2 are stamped with a fresh message id on
// delivery (scoped to this outbound direction only); QoS 2
// additionally starts this client's half of the handshake. QoS 0
// carries no message id.
func (h *Handler) handleBroadcast(ev subscription.BroadcastEvent) Outcome {
	if ev.FromClientID == h.session.GetClientID() {
		return Outcome{Kind: None} // no self-echo
	}
	content := ev.Content
	switch content.QoS {
	case packet.QoS1:
		content.MessageID = h.nextMessageID()
	case packet.QoS2:
		id := h.nextMessageID()
		h.deps.Inflight.Append(h.session.GetClientID(), id, inflight.Entry{
			FromClientID: content.FromClientID, ToClientID: h.session.GetClientID(),
			Topic: content.Topic, Retain: content.Retain, Payload: content.Payload, MessageID: id,
		})
		content.MessageID = id
	}
	pub := &packet.Publish{
		Version: h.session.ProtocolLevel(), QoS: content.QoS, Retain: content.Retain,
		Topic: content.Topic, MessageID: content.MessageID, Payload: content.Payload,
	}
	return Outcome{Kind: Response, Data: pub.Encode()}
}

// handleExit tears this Handler down. will is true only for abnormal
// termination; only then is the configured will message broadcast.
func (h *Handler) handleExit(ev ExitEvent) Outcome {
	clientID := h.session.GetClientID()
	if ev.Will && h.session.IsWillFlag() {
		h.deps.Subscriptions.Broadcast(h.session.GetWillTopic(), subscription.Content{
			FromClientID: clientID, Topic: h.session.GetWillTopic(),
			QoS: h.session.WillQoS(), Retain: h.session.WillRetain(), Payload: h.session.GetWillMessage(),
		})
	}
	h.deps.Subscriptions.Exit(clientID)
	h.deps.Sessions.Unregister(clientID, h)
	h.session.Terminate()
	return Outcome{Kind: Exit}
}

// Serve runs the Handler's event loop against its Session's event
// channel until ExitEvent terminates it, ctx is canceled, or the
// channel is closed. write is the transport's outbound byte sink.
func (h *Handler) Serve(ctx context.Context, write func([]byte) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-h.session.Events():
			if !ok {
				return nil
			}
			outcome := h.HandleEvent(ctx, ev)
			switch outcome.Kind {
			case Response:
				if err := write(outcome.Data); err != nil {
					return err
				}
			case Exit:
				return nil
			}
		}
	}
}
