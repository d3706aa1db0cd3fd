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

// Publish carries application payload between a publisher and the
// broker, or between the broker and a subscriber. Payload is treated
// as opaque bytes; the broker never interprets it.
type Publish struct {
	Version   Version
	Dup       bool
	QoS       QoS
	Retain    bool
	Topic     string
	MessageID uint16 // only meaningful when QoS > 0
	Payload   []byte
}

// DecodePublish parses body (the frame after the fixed header) given
// the qos extracted from the fixed header flags by DecodeType.
func DecodePublish(body []byte, qos QoS) (*Publish, error) {
	buf := bytes.NewBuffer(body)
	topic, err := binary.ReadString(buf)
	if err != nil {
		return nil, xerror.ErrMalformed
	}
	p := &Publish{Topic: topic, QoS: qos}
	if qos > QoS0 {
		p.MessageID, err = binary.ReadUint16(buf)
		if err != nil {
			return nil, xerror.ErrMalformed
		}
	}
	p.Payload = buf.Bytes()
	return p, nil
}

func (p *Publish) Encode() []byte {
	buf := &bytes.Buffer{}
	_ = binary.WriteString(buf, []byte(p.Topic))
	if p.QoS > QoS0 {
		_ = binary.WriteUint16(buf, p.MessageID)
	}
	buf.Write(p.Payload)

	var flags byte
	if p.Dup {
		flags |= 0x08
	}
	flags |= byte(p.QoS&0x03) << 1
	if p.Retain {
		flags |= 0x01
	}
	return encodeToBytes(flags, PUBLISH, buf.Bytes())
}
