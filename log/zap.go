// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapOutputter routes leveled output to a zap logger.
type zapOutputter struct {
	logger *zap.Logger
	level  Level
}

// NewZapOutputter returns an Outputter that writes messages at or
// below the provided level to the zap logger l. Error maps to zap's
// error level, Info to info, and all debug levels to debug.
func NewZapOutputter(l *zap.Logger, level Level) Outputter {
	return &zapOutputter{logger: l.WithOptions(zap.AddCallerSkip(2)), level: level}
}

// NewProductionZapOutputter constructs a JSON zap logger writing to
// standard error, as used by node software.
func NewProductionZapOutputter(level Level) (Outputter, func() error, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel(level))
	l, err := cfg.Build()
	if err != nil {
		return nil, nil, err
	}
	return NewZapOutputter(l, level), l.Sync, nil
}

func (z *zapOutputter) Level() Level { return z.level }

func (z *zapOutputter) Output(calldepth int, level Level, s string) error {
	if z.level < level {
		return nil
	}
	if ce := z.logger.Check(zapLevel(level), s); ce != nil {
		ce.Write()
	}
	return nil
}

func zapLevel(level Level) zapcore.Level {
	switch {
	case level <= Error:
		return zapcore.ErrorLevel
	case level == Info:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}
