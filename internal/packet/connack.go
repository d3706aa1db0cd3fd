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
	"github.com/yunqi/mqttcore/internal/code"
	"github.com/yunqi/mqttcore/internal/xerror"
)

// Connack is the broker's reply to CONNECT.
type Connack struct {
	Version        Version
	SessionPresent bool
	Code           code.Code
}

func (a *Connack) Encode() []byte {
	buf := &bytes.Buffer{}
	_ = binary.WriteBool(buf, a.SessionPresent)
	buf.WriteByte(byte(a.Code))
	return encodeToBytes(0x00, CONNACK, buf.Bytes())
}

func DecodeConnack(body []byte) (*Connack, error) {
	if len(body) < 2 {
		return nil, xerror.ErrMalformed
	}
	return &Connack{
		SessionPresent: body[0]&0x01 != 0,
		Code:           code.Code(body[1]),
	}, nil
}
