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

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/yunqi/mqttcore/config"
	"github.com/yunqi/mqttcore/internal/auth"
	"github.com/yunqi/mqttcore/internal/broker"
	"github.com/yunqi/mqttcore/internal/goroutine"
	"github.com/yunqi/mqttcore/internal/transport"
	"github.com/yunqi/mqttcore/internal/xlog"
	"github.com/yunqi/mqttcore/internal/xtrace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "broker.yaml", "path to the broker config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	if cfg.Runtime.WorkerPoolSize > 0 {
		goroutine.Resize(cfg.Runtime.WorkerPoolSize)
	}

	level := zapcore.InfoLevel
	_ = level.UnmarshalText([]byte(cfg.Log.Level))
	var file *xlog.FileConfig
	if cfg.Log.File != "" {
		file = &xlog.FileConfig{
			Filename:   cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		}
	}
	if err := xlog.Init(level, file); err != nil {
		panic(err)
	}
	log := xlog.LoggerModule("main")

	if cfg.Tracing.Exporter != "" {
		shutdown, err := xtrace.InitProvider(xtrace.Config{
			Exporter:    xtrace.Exporter(cfg.Tracing.Exporter),
			Endpoint:    cfg.Tracing.Endpoint,
			ServiceName: cfg.Tracing.ServiceName,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			log.Fatal("init tracing", zap.Error(err))
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	authorizer, err := buildAuthorizer(cfg.Auth)
	if err != nil {
		log.Fatal("init authorizer", zap.Error(err))
	}

	b := broker.New(
		broker.WithAuthorizer(authorizer),
		broker.WithMqttConfig(cfg.Mqtt),
	)

	var servers []interface{ Close() error }

	if cfg.Listen.TCP != "" {
		tcp := transport.NewTCP(cfg.Listen.TCP, b)
		go func() {
			if err := tcp.ListenAndServe(); err != nil {
				log.Error("tcp listener stopped", zap.Error(err))
			}
		}()
		servers = append(servers, tcp)
	}

	if cfg.Listen.WebSocket != "" {
		path := cfg.Listen.WSPath
		if path == "" {
			path = "/mqtt"
		}
		ws := transport.NewWebSocket(cfg.Listen.WebSocket, path, b)
		go func() {
			if err := ws.ListenAndServe(); err != nil {
				log.Error("websocket listener stopped", zap.Error(err))
			}
		}()
		servers = append(servers, ws)
	}

	log.Info("broker started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("broker shutting down")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Shutdown(ctx)
	for _, s := range servers {
		_ = s.Close()
	}
}

func buildAuthorizer(cfg config.Auth) (auth.Authorizer, error) {
	if cfg.Redis.Addr == "" {
		return auth.AllowAll{}, nil
	}
	store, err := auth.NewRedisStore(context.Background(), auth.RedisStoreConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Redis.Prefix,
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}
