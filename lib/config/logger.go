package config

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LogConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"maxSize"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAge     int    `yaml:"maxAge"`
	Compress   bool   `yaml:"compress"`
}

// WithDefaults returns a copy of the LogConfig with any missing fields set to
// their default values.
func (c LogConfig) WithDefaults() LogConfig {
	cpy := c
	if cpy.Path == "" {
		cpy.Path = "./logs"
	}
	if cpy.MaxSize == 0 {
		cpy.MaxSize = 50
	}
	if cpy.MaxBackups == 0 {
		cpy.MaxBackups = 5
	}
	if cpy.MaxAge == 0 {
		cpy.MaxAge = 14
	}
	return cpy
}

// CreateLogger builds the process logger. With a log section it writes to a
// rotating file, otherwise to stderr.
func (c *Config) CreateLogger(debug bool) (
	*zap.Logger,
	io.Closer,
	error,
) {
	if c.Logger == nil {
		var logger *zap.Logger
		var err error
		if debug {
			logger, err = zap.NewDevelopment()
		} else {
			logger, err = zap.NewProduction()
		}
		return logger, io.NopCloser(nil), errors.Wrap(err, "create logger")
	}

	lc := c.Logger.WithDefaults()
	if err := os.MkdirAll(lc.Path, 0o755); err != nil {
		return nil, nil, errors.Wrap(err, "create logger")
	}
	rot := &lumberjack.Logger{
		Filename:   filepath.Join(lc.Path, "pulsec.log"),
		MaxSize:    lc.MaxSize,
		MaxBackups: lc.MaxBackups,
		MaxAge:     lc.MaxAge,
		Compress:   lc.Compress,
	}

	encCfg := zap.NewProductionEncoderConfig()
	level := zap.InfoLevel
	if debug {
		encCfg = zap.NewDevelopmentEncoderConfig()
		level = zap.DebugLevel
	}
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(rot), level)
	return zap.New(core, zap.AddCaller()), rot, nil
}
