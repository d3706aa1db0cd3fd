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

// Package xlog wraps zap with the rotation and per-component naming
// conventions used across the broker.
package xlog

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Log is a thin alias so call sites don't import zap directly.
type Log = zap.Logger

var (
	mu   sync.RWMutex
	base *zap.Logger = zap.NewNop()
)

func init() {
	// Sane default so packages can call LoggerModule before main
	// calls Init with the configured level/sink.
	_ = Init(zapcore.InfoLevel, nil)
}

// FileConfig configures the lumberjack rotation sink. A zero value
// means "no file sink", i.e. stderr only.
type FileConfig struct {
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Init installs the process-wide base logger. Call once at startup;
// safe to call again in tests to reconfigure.
func Init(level zapcore.Level, file *FileConfig) error {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.Lock(zapcore.AddSync(os.Stderr)), level),
	}
	if file != nil && file.Filename != "" {
		sink := &lumberjack.Logger{
			Filename:   file.Filename,
			MaxSize:    file.MaxSizeMB,
			MaxBackups: file.MaxBackups,
			MaxAge:     file.MaxAgeDays,
			Compress:   file.Compress,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(sink), level))
	}

	mu.Lock()
	base = zap.New(zapcore.NewTee(cores...))
	mu.Unlock()
	return nil
}

// LoggerModule returns a logger scoped to a named component, e.g.
// "handler", "subscription", "inflight".
func LoggerModule(name string) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base.Named(name)
}
