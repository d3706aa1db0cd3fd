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

// Package code defines the MQTT v3.1.1 CONNACK return codes. The
// SUBACK granted-QoS and failure codes are packet.QoS values.
package code

// Code is a CONNACK return code.
type Code byte

const (
	Success                     Code = 0x00
	UnacceptableProtocolVersion Code = 0x01
	IdentifierRejected          Code = 0x02
	ServerUnavailable           Code = 0x03
	BadUsernameOrPassword       Code = 0x04
	NotAuthorized               Code = 0x05
)

func (c Code) String() string {
	switch c {
	case Success:
		return "connection accepted"
	case UnacceptableProtocolVersion:
		return "unacceptable protocol version"
	case IdentifierRejected:
		return "identifier rejected"
	case ServerUnavailable:
		return "server unavailable"
	case BadUsernameOrPassword:
		return "bad username or password"
	case NotAuthorized:
		return "not authorized"
	default:
		return "unknown"
	}
}
