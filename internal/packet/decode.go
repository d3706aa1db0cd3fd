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
	"io"

	"github.com/yunqi/mqttcore/internal/binary"
	"github.com/yunqi/mqttcore/internal/xerror"
)

// Decoded is the result of decoding one complete frame: the fixed
// header plus exactly one typed packet. For SUBSCRIBE,
// Subscribe.Filters holds one entry per filter in the wire packet (the
// handler still answers with a single SUBACK).
type Decoded struct {
	Header FixedHeader

	Connect     *Connect
	Connack     *Connack
	Publish     *Publish
	Puback      *Puback
	Pubrec      *Pubrec
	Pubrel      *Pubrel
	Pubcomp     *Pubcomp
	Subscribe   *Subscribe
	Suback      *Suback
	Unsubscribe *Unsubscribe
	Unsuback    *Unsuback
	Pingreq     bool
	Pingresp    bool
	Disconnect  bool
}

// Decode consumes one complete MQTT frame from buf (fixed header +
// variable header + payload, with no trailing bytes) and returns the
// decoded packet. The caller is responsible for buffering a full
// frame first, using DecodeRemainingLength to know how many bytes to
// wait for after the fixed header.
func Decode(buf []byte) (*Decoded, error) {
	if len(buf) < 2 {
		return nil, xerror.ErrMalformed
	}
	typ, dup, qos, retain, err := DecodeType(buf[0])
	if err != nil {
		return nil, err
	}
	length, consumed, err := DecodeRemainingLength(buf[1:])
	if err != nil {
		return nil, err
	}
	body := buf[1+consumed:]
	if uint32(len(body)) != length {
		return nil, xerror.ErrMalformed
	}

	header := FixedHeader{Type: typ, Dup: dup, QoS: qos, Retain: retain, RemainLength: length}
	d := &Decoded{Header: header}

	switch typ {
	case CONNECT:
		d.Connect, err = DecodeConnect(body)
	case CONNACK:
		d.Connack, err = DecodeConnack(body)
	case PUBLISH:
		d.Publish, err = DecodePublish(body, qos)
	case PUBACK:
		d.Puback, err = DecodePuback(body)
	case PUBREC:
		d.Pubrec, err = DecodePubrec(body)
	case PUBREL:
		d.Pubrel, err = DecodePubrel(body)
	case PUBCOMP:
		d.Pubcomp, err = DecodePubcomp(body)
	case SUBSCRIBE:
		d.Subscribe, err = DecodeSubscribe(body)
	case SUBACK:
		d.Suback, err = DecodeSuback(body)
	case UNSUBSCRIBE:
		d.Unsubscribe, err = DecodeUnsubscribe(body)
	case UNSUBACK:
		d.Unsuback, err = DecodeUnsuback(body)
	case PINGREQ:
		d.Pingreq = true
	case PINGRESP:
		d.Pingresp = true
	case DISCONNECT:
		d.Disconnect = true
	default:
		return nil, xerror.ErrUnknownType
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ReadFrame reads one complete MQTT frame (fixed header and the
// remaining-length-delimited body) from r and returns the raw bytes,
// suitable for passing to Decode. It is the transport-facing
// counterpart to Decode, which works on an already-buffered frame.
//
// maxBodyLength caps the remaining length this call will accept,
// typically the broker's configured Mqtt.MaxPacketSize; 0 falls back to
// maxFrameBodyLength, the protocol's own variable-length-integer
// ceiling.
func ReadFrame(r io.Reader, maxBodyLength uint32) ([]byte, error) {
	var typeByte [1]byte
	if _, err := io.ReadFull(r, typeByte[:]); err != nil {
		return nil, err
	}
	length, _, err := binary.ReadRemainingLength(r)
	if err != nil {
		return nil, err
	}
	if maxBodyLength == 0 || maxBodyLength > maxFrameBodyLength {
		maxBodyLength = maxFrameBodyLength
	}
	if length > maxBodyLength {
		return nil, xerror.ErrMalformed
	}
	body := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, err
		}
	}

	frame := make([]byte, 0, 1+5+len(body))
	frame = append(frame, typeByte[0])
	lenBuf := &lengthBuffer{}
	if err := binary.WriteRemainingLength(lenBuf, length); err != nil {
		return nil, err
	}
	frame = append(frame, lenBuf.b...)
	frame = append(frame, body...)
	return frame, nil
}

// maxFrameBodyLength bounds a single frame's remaining length so a
// malicious or broken peer cannot force an unbounded allocation; it
// matches the protocol's own 4-byte variable-length integer ceiling.
const maxFrameBodyLength = 0xFFFFFFF

// lengthBuffer is a tiny io.Writer so WriteRemainingLength can be
// reused to re-encode the length prefix already consumed from r.
type lengthBuffer struct{ b []byte }

func (l *lengthBuffer) Write(p []byte) (int, error) {
	l.b = append(l.b, p...)
	return len(p), nil
}
