package logging

import (
	"encoding/json"
	"strings"

	"github.com/Gobusters/ectologger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	AppName string
	Level   string
	Pretty  bool
}

// New builds an ectologger.Logger whose messages are written through zap.
func New(cfg Config) (ectologger.Logger, *zap.Logger, error) {
	zl, err := newZap(cfg)
	if err != nil {
		return nil, nil, err
	}
	zl = zl.With(zap.String("app", cfg.AppName))
	return ectologger.NewEctoLogger(Sink(zl)), zl, nil
}

// Discard returns a logger that drops everything.
func Discard() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newZap(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Pretty {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.DisableStacktrace = true
	// every entry passes through Sink, so the caller would always be this file
	zcfg.DisableCaller = true
	return zcfg.Build()
}

// Sink forwards ectologger messages to zl at the message's level.
func Sink(zl *zap.Logger) func(ectologger.EctoLogMessage) {
	return func(msg ectologger.EctoLogMessage) {
		fields := flatten(msg)
		level := zapcore.InfoLevel
		text := ""
		zfields := make([]zap.Field, 0, len(fields))
		for k, v := range fields {
			switch strings.ToLower(k) {
			case "level":
				if s, ok := v.(string); ok {
					if parsed, err := zapcore.ParseLevel(s); err == nil {
						level = parsed
					}
				}
			case "message", "msg":
				if s, ok := v.(string); ok {
					text = s
				}
			default:
				zfields = append(zfields, zap.Any(k, v))
			}
		}
		if ce := zl.Check(level, text); ce != nil {
			ce.Write(zfields...)
		}
	}
}

func flatten(msg ectologger.EctoLogMessage) map[string]any {
	raw, err := json.Marshal(msg)
	if err != nil {
		return map[string]any{"entry": msg}
	}
	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return map[string]any{"entry": msg}
	}
	return fields
}
