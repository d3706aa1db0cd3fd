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

// Package xerror centralizes the sentinel errors the codec and
// handler compare against with errors.Is.
package xerror

import "errors"

var (
	// ErrMalformed covers bad remaining length, wrong reserved bits
	// and truncated fields. The connection is closed with no response.
	ErrMalformed = errors.New("mqtt: malformed packet")

	// ErrUnknownType is returned by the fixed-header decoder when the
	// upper nibble is 0 or 15.
	ErrUnknownType = errors.New("mqtt: unknown packet type")

	// ErrV3UnacceptableProtocolVersion is returned when CONNECT names
	// a protocol name/level pair the broker doesn't speak.
	ErrV3UnacceptableProtocolVersion = errors.New("mqtt: unacceptable protocol version")

	// ErrV3IdentifierRejected is returned for an empty client id with
	// clean_session=false.
	ErrV3IdentifierRejected = errors.New("mqtt: identifier rejected")

	// ErrNotAuthorized is logged by the handler when the authorization
	// hook answers CONNECT with code.NotAuthorized.
	ErrNotAuthorized = errors.New("mqtt: not authorized")

	// ErrFirstPacketNotConnect is logged by the handler when a session
	// receives a non-CONNECT packet before it has been established.
	ErrFirstPacketNotConnect = errors.New("mqtt: first packet must be CONNECT")
)
