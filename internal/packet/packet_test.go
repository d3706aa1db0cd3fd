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

package packet

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yunqi/mqttcore/internal/code"
	"github.com/yunqi/mqttcore/internal/xerror"
)

func TestConnectRoundTrip(t *testing.T) {
	c := &Connect{
		Version:       Version4,
		ProtocolName:  "MQTT",
		ProtocolLevel: 4,
		ConnectFlags: ConnectFlags{
			CleanSession: true,
			WillFlag:     true,
			WillQoS:      QoS1,
			WillRetain:   false,
		},
		KeepAlive:   60,
		ClientID:    "client-a",
		WillTopic:   "bye",
		WillMessage: []byte("gone"),
	}
	raw, err := c.Encode()
	require.NoError(t, err)

	decoded, err := Decode(raw)
	require.NoError(t, err)
	require.NotNil(t, decoded.Connect)
	assert.Equal(t, c.ClientID, decoded.Connect.ClientID)
	assert.Equal(t, c.WillTopic, decoded.Connect.WillTopic)
	assert.Equal(t, c.WillMessage, decoded.Connect.WillMessage)
	assert.True(t, decoded.Connect.CleanSession)
	assert.Equal(t, QoS1, decoded.Connect.WillQoS)
}

func TestConnectV31ProtocolName(t *testing.T) {
	c := &Connect{
		Version:       Version3,
		ProtocolName:  "MQIsdp",
		ProtocolLevel: 3,
		ClientID:      "old-client",
	}
	raw, err := c.Encode()
	require.NoError(t, err)

	decoded, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, Version3, decoded.Connect.Version)
}

func TestConnectUnacceptableProtocol(t *testing.T) {
	c := &Connect{ProtocolName: "MQTT", ProtocolLevel: 5, ClientID: "x"}
	raw, err := c.Encode()
	require.NoError(t, err)

	_, err = Decode(raw)
	assert.ErrorIs(t, err, xerror.ErrV3UnacceptableProtocolVersion)
}

func TestConnectEmptyClientIDRejectedWhenNotCleanSession(t *testing.T) {
	c := &Connect{ProtocolName: "MQTT", ProtocolLevel: 4, ClientID: ""}
	raw, err := c.Encode()
	require.NoError(t, err)

	_, err = Decode(raw)
	assert.ErrorIs(t, err, xerror.ErrV3IdentifierRejected)
}

func TestPublishRoundTripQoS0(t *testing.T) {
	p := &Publish{Topic: "room/1", QoS: QoS0, Payload: []byte("hi")}
	raw := p.Encode()

	decoded, err := Decode(raw)
	require.NoError(t, err)
	require.NotNil(t, decoded.Publish)
	assert.Equal(t, "room/1", decoded.Publish.Topic)
	assert.Equal(t, []byte("hi"), decoded.Publish.Payload)
	assert.Zero(t, decoded.Publish.MessageID)
}

func TestPublishRoundTripQoS2WithIdentifier(t *testing.T) {
	p := &Publish{Topic: "t", QoS: QoS2, MessageID: 9, Payload: []byte("y"), Dup: true}
	raw := p.Encode()

	decoded, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, uint16(9), decoded.Publish.MessageID)
	assert.True(t, decoded.Header.Dup)
	assert.Equal(t, QoS2, decoded.Header.QoS)
}

func TestSubscribeBatchRoundTrip(t *testing.T) {
	s := &Subscribe{
		MessageID: 1,
		Filters: []SubscribeFilter{
			{Topic: "sport/+/score", QoS: QoS0},
			{Topic: "news/#", QoS: QoS1},
		},
	}
	raw := s.Encode()

	decoded, err := Decode(raw)
	require.NoError(t, err)
	require.Len(t, decoded.Subscribe.Filters, 2)
	assert.Equal(t, "sport/+/score", decoded.Subscribe.Filters[0].Topic)
	assert.Equal(t, QoS1, decoded.Subscribe.Filters[1].QoS)
}

func TestSubackEncodesFailureCode(t *testing.T) {
	s := &Suback{MessageID: 1, Codes: []QoS{QoS0, Failure}}
	raw := s.Encode()

	decoded, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, []QoS{QoS0, Failure}, decoded.Suback.Codes)
}

func TestAckPacketsRoundTrip(t *testing.T) {
	puback := (&Puback{MessageID: 7}).Encode()
	d, err := Decode(puback)
	require.NoError(t, err)
	assert.Equal(t, uint16(7), d.Puback.MessageID)

	pubrel := (&Pubrel{MessageID: 9}).Encode()
	d, err = Decode(pubrel)
	require.NoError(t, err)
	assert.Equal(t, uint16(9), d.Pubrel.MessageID)
	assert.Equal(t, byte(0x02), pubrel[0]&0x0F)
}

func TestFixedShapePackets(t *testing.T) {
	d, err := Decode(EncodePingreq())
	require.NoError(t, err)
	assert.True(t, d.Pingreq)

	d, err = Decode(EncodePingresp())
	require.NoError(t, err)
	assert.True(t, d.Pingresp)

	d, err = Decode(EncodeDisconnect())
	require.NoError(t, err)
	assert.True(t, d.Disconnect)
}

func TestDecodeTypeRejectsReservedNibbles(t *testing.T) {
	_, _, _, _, err := DecodeType(0x00)
	assert.Error(t, err)

	_, _, _, _, err = DecodeType(0xF0)
	assert.Error(t, err)
}

func TestConnackCode(t *testing.T) {
	ack := &Connack{Code: code.UnacceptableProtocolVersion}
	raw := ack.Encode()
	d, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, code.UnacceptableProtocolVersion, d.Connack.Code)
}

func TestReadFrameMatchesWholeEncodedPacket(t *testing.T) {
	pub := &Publish{Topic: "t", QoS: QoS1, MessageID: 42, Payload: []byte("payload")}
	raw := pub.Encode()

	frame, err := ReadFrame(bytes.NewReader(raw), 0)
	require.NoError(t, err)
	assert.Equal(t, raw, frame)

	d, err := Decode(frame)
	require.NoError(t, err)
	require.NotNil(t, d.Publish)
	assert.Equal(t, "t", d.Publish.Topic)
	assert.Equal(t, []byte("payload"), d.Publish.Payload)
}

func TestReadFrameStopsAtOneFrameBoundary(t *testing.T) {
	first := EncodePingreq()
	second := EncodePingresp()
	r := bytes.NewReader(append(append([]byte{}, first...), second...))

	frame, err := ReadFrame(r, 0)
	require.NoError(t, err)
	assert.Equal(t, first, frame)

	frame, err = ReadFrame(r, 0)
	require.NoError(t, err)
	assert.Equal(t, second, frame)
}

func TestReadFrameRejectsFrameOverConfiguredLimit(t *testing.T) {
	pub := &Publish{Topic: "t", QoS: QoS0, Payload: make([]byte, 32)}
	raw := pub.Encode()

	_, err := ReadFrame(bytes.NewReader(raw), 8)
	assert.ErrorIs(t, err, xerror.ErrMalformed)

	frame, err := ReadFrame(bytes.NewReader(raw), uint32(len(raw)))
	require.NoError(t, err)
	assert.Equal(t, raw, frame)
}
