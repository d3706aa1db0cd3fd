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

	"github.com/yunqi/mqttcore/internal/binary"
	"github.com/yunqi/mqttcore/internal/xerror"
)

// SubscribeFilter is one (topic filter, requested QoS) pair out of a
// SUBSCRIBE packet's payload.
type SubscribeFilter struct {
	Topic string
	QoS   QoS
}

// Subscribe is the decoded batch for one SUBSCRIBE packet: a shared
// message id and one or more filters. The broker answers with a
// single SUBACK carrying one return code per filter, in order.
type Subscribe struct {
	Version   Version
	MessageID uint16
	Filters   []SubscribeFilter
}

// DecodeSubscribe parses one or more (topic, qos) pairs following the
// packet identifier. At least one pair is required.
func DecodeSubscribe(body []byte) (*Subscribe, error) {
	buf := bytes.NewBuffer(body)
	id, err := binary.ReadUint16(buf)
	if err != nil {
		return nil, xerror.ErrMalformed
	}
	s := &Subscribe{MessageID: id}
	for buf.Len() > 0 {
		topic, err := binary.ReadString(buf)
		if err != nil {
			return nil, xerror.ErrMalformed
		}
		qosByte, err := buf.ReadByte()
		if err != nil {
			return nil, xerror.ErrMalformed
		}
		s.Filters = append(s.Filters, SubscribeFilter{Topic: topic, QoS: QoS(qosByte)})
	}
	if len(s.Filters) == 0 {
		return nil, xerror.ErrMalformed
	}
	return s, nil
}

func (s *Subscribe) Encode() []byte {
	buf := &bytes.Buffer{}
	_ = binary.WriteUint16(buf, s.MessageID)
	for _, f := range s.Filters {
		_ = binary.WriteString(buf, []byte(f.Topic))
		buf.WriteByte(byte(f.QoS))
	}
	return encodeToBytes(0x02, SUBSCRIBE, buf.Bytes())
}

// Suback answers a Subscribe with one return code per requested
// filter, in the same order: granted QoS 0/1/2, or Failure
// (0x80) when the broker refuses that filter.
type Suback struct {
	Version   Version
	MessageID uint16
	Codes     []QoS
}

func (s *Suback) Encode() []byte {
	buf := &bytes.Buffer{}
	_ = binary.WriteUint16(buf, s.MessageID)
	for _, c := range s.Codes {
		buf.WriteByte(byte(c))
	}
	return encodeToBytes(0x00, SUBACK, buf.Bytes())
}

func DecodeSuback(body []byte) (*Suback, error) {
	buf := bytes.NewBuffer(body)
	id, err := binary.ReadUint16(buf)
	if err != nil {
		return nil, xerror.ErrMalformed
	}
	s := &Suback{MessageID: id}
	for buf.Len() > 0 {
		b, _ := buf.ReadByte()
		s.Codes = append(s.Codes, QoS(b))
	}
	return s, nil
}

// Unsubscribe removes a single topic filter subscription.
type Unsubscribe struct {
	Version   Version
	MessageID uint16
	Topic     string
}

func DecodeUnsubscribe(body []byte) (*Unsubscribe, error) {
	buf := bytes.NewBuffer(body)
	id, err := binary.ReadUint16(buf)
	if err != nil {
		return nil, xerror.ErrMalformed
	}
	topic, err := binary.ReadString(buf)
	if err != nil {
		return nil, xerror.ErrMalformed
	}
	return &Unsubscribe{MessageID: id, Topic: topic}, nil
}

func (u *Unsubscribe) Encode() []byte {
	buf := &bytes.Buffer{}
	_ = binary.WriteUint16(buf, u.MessageID)
	_ = binary.WriteString(buf, []byte(u.Topic))
	return encodeToBytes(0x02, UNSUBSCRIBE, buf.Bytes())
}
