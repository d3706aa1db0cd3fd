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

// Package packet implements the MQTT v3.1/v3.1.1 control packet
// codec: pure functions between byte buffers and decoded packet
// structs. It has no knowledge of sessions, registries or I/O beyond
// the io.Reader/io.Writer it is handed.
package packet

import (
	"bytes"
	"fmt"
	"io"

	"github.com/yunqi/mqttcore/internal/binary"
	"github.com/yunqi/mqttcore/internal/xerror"
)

// PacketType is the MQTT control packet type, the upper nibble of the
// fixed header's first byte.
type PacketType byte

const (
	_ PacketType = iota
	CONNECT
	CONNACK
	PUBLISH
	PUBACK
	PUBREC
	PUBREL
	PUBCOMP
	SUBSCRIBE
	SUBACK
	UNSUBSCRIBE
	UNSUBACK
	PINGREQ
	PINGRESP
	DISCONNECT
	reservedUpperNibble
)

func (t PacketType) String() string {
	switch t {
	case CONNECT:
		return "CONNECT"
	case CONNACK:
		return "CONNACK"
	case PUBLISH:
		return "PUBLISH"
	case PUBACK:
		return "PUBACK"
	case PUBREC:
		return "PUBREC"
	case PUBREL:
		return "PUBREL"
	case PUBCOMP:
		return "PUBCOMP"
	case SUBSCRIBE:
		return "SUBSCRIBE"
	case SUBACK:
		return "SUBACK"
	case UNSUBSCRIBE:
		return "UNSUBSCRIBE"
	case UNSUBACK:
		return "UNSUBACK"
	case PINGREQ:
		return "PINGREQ"
	case PINGRESP:
		return "PINGRESP"
	case DISCONNECT:
		return "DISCONNECT"
	default:
		return fmt.Sprintf("PacketType(%d)", byte(t))
	}
}

// Version is the CONNECT protocol level, recorded per session. The
// handler sets it on the CONNACK and on each PUBLISH it forwards; the
// acknowledgment packets it sends leave it unset. No encoder reads it,
// since v3.1 and v3.1.1 share one wire format for these packets.
type Version byte

const (
	// Version3 is MQTT v3.1, protocol name "MQIsdp".
	Version3 Version = 3
	// Version4 is MQTT v3.1.1, protocol name "MQTT".
	Version4 Version = 4
	// Version5 is recognized only so CONNECT can reject it cleanly;
	// this package implements no v5 codec.
	Version5 Version = 5
)

var version2ProtocolName = map[Version]string{
	Version3: "MQIsdp",
	Version4: "MQTT",
}

func ProtocolNameFor(v Version) (string, bool) {
	name, ok := version2ProtocolName[v]
	return name, ok
}

// FixedHeader is the 2-5 byte prefix common to every control packet:
// type, flags (dup/qos/retain bits for PUBLISH, 0x02 for PUBREL) and
// the remaining length.
type FixedHeader struct {
	Type         PacketType
	Dup          bool
	QoS          QoS
	Retain       bool
	RemainLength uint32
}

// QoS is the MQTT delivery guarantee level. Failure is the SUBACK
// sentinel for a filter the broker refuses to grant; it is never a
// legal PUBLISH QoS.
type QoS byte

const (
	QoS0    QoS = 0
	QoS1    QoS = 1
	QoS2    QoS = 2
	Failure QoS = 0x80
)

func (q QoS) Valid() bool {
	return q == QoS0 || q == QoS1 || q == QoS2
}

// DecodeType reads the first byte of a frame and extracts the packet
// type plus the dup/qos/retain flag bits (meaningful only for PUBLISH
// and, for the reserved bit pattern, PUBREL).
func DecodeType(b byte) (PacketType, bool, QoS, bool, error) {
	typ := PacketType(b >> 4)
	if typ == 0 || typ >= reservedUpperNibble {
		return 0, false, 0, false, xerror.ErrUnknownType
	}
	flags := b & 0x0F
	dup := flags&0x08 != 0
	qos := QoS((flags >> 1) & 0x03)
	retain := flags&0x01 != 0

	switch typ {
	case PUBLISH:
		if qos > QoS2 {
			return 0, false, 0, false, xerror.ErrMalformed
		}
	case PUBREL, SUBSCRIBE, UNSUBSCRIBE:
		if flags != 0x02 {
			return 0, false, 0, false, xerror.ErrMalformed
		}
	case CONNECT, CONNACK, PUBACK, PUBREC, PUBCOMP, SUBACK, UNSUBACK,
		PINGREQ, PINGRESP, DISCONNECT:
		if flags != 0x00 {
			return 0, false, 0, false, xerror.ErrMalformed
		}
	}
	return typ, dup, qos, retain, nil
}

// DecodeRemainingLength is re-exported from internal/binary for
// callers that only have the codec package imported.
func DecodeRemainingLength(buf []byte) (uint32, int, error) {
	return binary.DecodeRemainingLength(buf)
}

// encode writes the fixed header followed by variableAndPayload to w.
func encode(flags byte, typ PacketType, variableAndPayload []byte, w io.Writer) error {
	if _, err := w.Write([]byte{byte(typ)<<4 | flags}); err != nil {
		return err
	}
	if err := binary.WriteRemainingLength(w, uint32(len(variableAndPayload))); err != nil {
		return err
	}
	_, err := w.Write(variableAndPayload)
	return err
}

func encodeToBytes(flags byte, typ PacketType, variableAndPayload []byte) []byte {
	buf := &bytes.Buffer{}
	_ = encode(flags, typ, variableAndPayload, buf)
	return buf.Bytes()
}

// fixedEmptyPacket builds one of the three packets with no variable
// header or payload: PINGREQ, PINGRESP, DISCONNECT.
func fixedEmptyPacket(typ PacketType) []byte {
	return encodeToBytes(0x00, typ, nil)
}

// notPayload builds the PUBACK/PUBREC/PUBREL/PUBCOMP/UNSUBACK shape:
// fixed header then a 2-byte packet identifier, nothing else. PUBREL
// is the only one of these with non-zero flags (0x02).
func notPayload(messageID uint16, typ PacketType) []byte {
	buf := &bytes.Buffer{}
	_ = binary.WriteUint16(buf, messageID)
	flags := byte(0x00)
	if typ == PUBREL {
		flags = 0x02
	}
	return encodeToBytes(flags, typ, buf.Bytes())
}

func readMessageID(body []byte) (uint16, error) {
	if len(body) < 2 {
		return 0, xerror.ErrMalformed
	}
	return binary.ReadUint16(bytes.NewReader(body[:2]))
}
