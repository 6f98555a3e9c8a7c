package mqtt

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig configures the *zap.Logger a Client uses. Client logs each
// dial attempt, each accepted or refused CONNACK and each scheduled
// reconnect with structured fields (client_id on every entry, plus uri,
// mqttVersion, returnCode or the backoff delay as relevant) instead of the
// teacher's bare log.Printf calls. Connection loss and protocol errors are
// reported through the OnConnectionLost/OnFailure hooks and are not logged.
type LogConfig struct {
	// FilePath, if set, rotates logs through lumberjack instead of writing
	// to stderr.
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Level      zapcore.Level
}

// NewLogger builds a *zap.Logger from cfg. A zero LogConfig yields
// zap.NewDevelopment() writing to stderr, matching the teacher's default
// of plain stderr logging when nothing is configured.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	if cfg.FilePath == "" {
		return zap.NewDevelopment()
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	sink := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    orDefault(cfg.MaxSizeMB, 100),
		MaxBackups: orDefault(cfg.MaxBackups, 3),
		MaxAge:     orDefault(cfg.MaxAgeDays, 28),
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(sink), cfg.Level)
	return zap.New(core, zap.AddCaller()), nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
