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

// Package auth is the CONNECT authorization hook: given the decoded
// CONNECT payload it returns the CONNACK return code to send. It owns
// no session or message state, only credential lookup, so it never
// needs to participate in the no-strong-references discipline the
// session/subscription/inflight registries follow.
package auth

import (
	"context"

	"github.com/yunqi/mqttcore/internal/code"
	"github.com/yunqi/mqttcore/internal/packet"
)

// Request is the subset of a CONNECT packet authorization decisions
// are made from.
type Request struct {
	ClientID string
	Username string
	Password string
}

// RequestFrom narrows a decoded CONNECT packet to an authorization Request.
func RequestFrom(c *packet.Connect) Request {
	return Request{ClientID: c.ClientID, Username: c.Username, Password: c.Password}
}

// Authorizer decides whether a CONNECT may proceed. Implementations
// must be safe for concurrent use: one call per connecting client.
type Authorizer interface {
	Authorize(ctx context.Context, req Request) code.Code
}

// AllowAll grants every CONNECT. It is the default when no credential
// store is configured, matching a broker run for local development.
type AllowAll struct{}

// Authorize always returns code.Success.
func (AllowAll) Authorize(context.Context, Request) code.Code {
	return code.Success
}

// Func adapts a plain function to an Authorizer.
type Func func(ctx context.Context, req Request) code.Code

// Authorize calls f.
func (f Func) Authorize(ctx context.Context, req Request) code.Code {
	return f(ctx, req)
}
