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

package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/yunqi/mqttcore/internal/code"
	"github.com/yunqi/mqttcore/internal/xlog"
	"go.uber.org/zap"
)

// RedisStore authorizes CONNECT by looking up the submitted username's
// expected password in Redis. It is a credential cache only: message
// and session state are never written here.
type RedisStore struct {
	client *redis.Client
	prefix string
	log    *xlog.Log
}

// RedisStoreConfig configures the credential-cache connection.
type RedisStoreConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // key prefix, defaults to "mqttcore:cred:"
}

// NewRedisStore dials addr and verifies connectivity with PING.
func NewRedisStore(ctx context.Context, cfg RedisStoreConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("auth: connect redis: %w", err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "mqttcore:cred:"
	}
	return &RedisStore{client: client, prefix: prefix, log: xlog.LoggerModule("auth")}, nil
}

func (s *RedisStore) key(username string) string {
	return s.prefix + username
}

// Authorize implements Authorizer. A CONNECT with no username is
// rejected with BadUsernameOrPassword rather than NotAuthorized, per
// the same distinction the protocol draws between the two codes.
func (s *RedisStore) Authorize(ctx context.Context, req Request) code.Code {
	if req.Username == "" {
		return code.BadUsernameOrPassword
	}
	want, err := s.client.Get(ctx, s.key(req.Username)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn("credential lookup failed", zap.String("username", req.Username), zap.Error(err))
		}
		return code.BadUsernameOrPassword
	}
	if want != req.Password {
		return code.BadUsernameOrPassword
	}
	return code.Success
}

// SetCredential stores or replaces username's expected password.
func (s *RedisStore) SetCredential(ctx context.Context, username, password string) error {
	return s.client.Set(ctx, s.key(username), password, 0).Err()
}

// Close releases the underlying Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
