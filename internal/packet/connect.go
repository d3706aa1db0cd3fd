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
	"fmt"

	"github.com/yunqi/mqttcore/internal/binary"
	"github.com/yunqi/mqttcore/internal/code"
	"github.com/yunqi/mqttcore/internal/xerror"
)

type (
	// Connect represents the MQTT CONNECT packet.
	Connect struct {
		Version Version

		ProtocolName  string
		ProtocolLevel byte
		// ConnectFlags specifies the behavior of the connection and
		// indicates the presence or absence of payload fields.
		ConnectFlags
		// KeepAlive is a time interval measured in seconds: the
		// maximum interval permitted between control packets from
		// this client.
		KeepAlive uint16

		WillTopic   string
		WillMessage []byte

		ClientID string
		Username string
		Password string
	}
	ConnectFlags struct {
		// CleanSession: bit 1 of the connect flags byte.
		CleanSession bool
		// WillFlag: bit 2.
		WillFlag bool
		// WillQoS: bits 4 and 3.
		WillQoS QoS
		// WillRetain: bit 5.
		WillRetain bool
		// PasswordFlag: bit 6.
		PasswordFlag bool
		// UsernameFlag: bit 7 (the high bit).
		UsernameFlag bool
	}
)

// DecodeConnect parses the variable header and payload of a CONNECT
// packet. body is the frame content after the fixed header.
func DecodeConnect(body []byte) (*Connect, error) {
	buf := bytes.NewBuffer(body)

	protocolName, err := binary.ReadString(buf)
	if err != nil {
		return nil, xerror.ErrMalformed
	}

	c := &Connect{ProtocolName: protocolName}

	c.ProtocolLevel, err = buf.ReadByte()
	if err != nil {
		return nil, xerror.ErrMalformed
	}
	c.Version = Version(c.ProtocolLevel)
	if c.Version == Version5 {
		// This codec speaks v3.1/v3.1.1 only; reject v5 explicitly
		// rather than relying on it merely being absent from the map.
		return nil, xerror.ErrV3UnacceptableProtocolVersion
	}
	wantName, ok := ProtocolNameFor(c.Version)
	if !ok || wantName != protocolName {
		return nil, xerror.ErrV3UnacceptableProtocolVersion
	}

	connectFlags, err := buf.ReadByte()
	if err != nil {
		return nil, xerror.ErrMalformed
	}
	reserved := 1 & connectFlags
	if reserved != 0 { // [MQTT-3.1.2-3]
		return nil, xerror.ErrMalformed
	}
	c.CleanSession = (1 & (connectFlags >> 1)) > 0
	c.WillFlag = (1 & (connectFlags >> 2)) > 0
	c.WillQoS = QoS(3 & (connectFlags >> 3))
	if !c.WillFlag && c.WillQoS != QoS0 { // [MQTT-3.1.2-11]
		return nil, xerror.ErrMalformed
	}
	c.WillRetain = (1 & (connectFlags >> 5)) > 0
	if !c.WillFlag && c.WillRetain { // [MQTT-3.1.2-11]
		return nil, xerror.ErrMalformed
	}
	c.PasswordFlag = (1 & (connectFlags >> 6)) > 0
	c.UsernameFlag = (1 & (connectFlags >> 7)) > 0
	c.KeepAlive, err = binary.ReadUint16(buf)
	if err != nil {
		return nil, xerror.ErrMalformed
	}
	if err := c.decodePayload(buf); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Connect) decodePayload(buf *bytes.Buffer) error {
	var err error
	c.ClientID, err = binary.ReadString(buf)
	if err != nil {
		return xerror.ErrMalformed
	}

	if len(c.ClientID) == 0 && !c.CleanSession { // [MQTT-3.1.3-7],[MQTT-3.1.3-8]
		return xerror.ErrV3IdentifierRejected
	}
	if c.WillFlag {
		c.WillTopic, err = binary.ReadString(buf)
		if err != nil {
			return xerror.ErrMalformed
		}
		c.WillMessage, err = binary.ReadBytes(buf)
		if err != nil {
			return xerror.ErrMalformed
		}
	}
	if c.UsernameFlag {
		c.Username, err = binary.ReadString(buf)
		if err != nil {
			return xerror.ErrMalformed
		}
	}
	if c.PasswordFlag {
		c.Password, err = binary.ReadString(buf)
		if err != nil {
			return xerror.ErrMalformed
		}
	}
	return nil
}

// Encode serializes c to wire bytes, fixed header included. Exercised
// by codec round-trip tests and by any code acting as an MQTT client
// against this package.
func (c *Connect) Encode() ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := binary.WriteString(buf, []byte(c.ProtocolName)); err != nil {
		return nil, err
	}
	buf.WriteByte(c.ProtocolLevel)

	var flags byte
	if c.UsernameFlag {
		flags |= 0x80
	}
	if c.PasswordFlag {
		flags |= 0x40
	}
	if c.WillRetain {
		flags |= 0x20
	}
	flags |= byte(c.WillQoS&0x03) << 3
	if c.WillFlag {
		flags |= 0x04
	}
	if c.CleanSession {
		flags |= 0x02
	}
	buf.WriteByte(flags)

	if err := binary.WriteUint16(buf, c.KeepAlive); err != nil {
		return nil, err
	}
	if err := binary.WriteString(buf, []byte(c.ClientID)); err != nil {
		return nil, err
	}
	if c.WillFlag {
		if err := binary.WriteString(buf, []byte(c.WillTopic)); err != nil {
			return nil, err
		}
		if err := binary.WriteString(buf, c.WillMessage); err != nil {
			return nil, err
		}
	}
	if c.UsernameFlag {
		if err := binary.WriteString(buf, []byte(c.Username)); err != nil {
			return nil, err
		}
	}
	if c.PasswordFlag {
		if err := binary.WriteString(buf, []byte(c.Password)); err != nil {
			return nil, err
		}
	}

	out := &bytes.Buffer{}
	if err := encode(0x00, CONNECT, buf.Bytes(), out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (c *Connect) String() string {
	return fmt.Sprintf(
		"CONNECT version=%v protocolName=%s cleanSession=%v keepAlive=%v clientID=%s username=%s willFlag=%v willRetain=%v willQos=%v willTopic=%s",
		c.Version, c.ProtocolName, c.CleanSession, c.KeepAlive, c.ClientID, c.Username, c.WillFlag, c.WillRetain, c.WillQoS, c.WillTopic)
}

// NewConnackPacket returns the Connack that answers this CONNECT.
// sessionReuse reports whether the broker found existing session
// state (a non-empty inflight table) for this client id.
func (c *Connect) NewConnackPacket(cd code.Code, sessionReuse bool) *Connack {
	ack := &Connack{Code: cd, Version: c.Version}
	if !c.CleanSession && sessionReuse && cd == code.Success {
		ack.SessionPresent = true // [MQTT-3.2.2-2]
	}
	return ack
}
