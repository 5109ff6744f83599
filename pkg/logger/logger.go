package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logger handed to every component. It mirrors the
// sugared zap surface: message plus alternating key/value context.
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, err error, keysAndValues ...interface{})
	Errorw(msg string, err error, keysAndValues ...interface{})
	WithValues(keysAndValues ...interface{}) Logger
	WithComponent(component string) Logger
}

type Config struct {
	// valid levels: debug, info, warn, error
	Level string `yaml:"level,omitempty"`
	JSON  bool   `yaml:"json,omitempty"`
}

var defaultLogger Logger = &zapLogger{sugar: zap.NewNop().Sugar()}

func GetLogger() Logger {
	return defaultLogger
}

func SetLogger(l Logger) {
	defaultLogger = l
}

// package-level helpers delegating to the process-wide logger

func Debugw(msg string, keysAndValues ...interface{}) {
	defaultLogger.Debugw(msg, keysAndValues...)
}

func Infow(msg string, keysAndValues ...interface{}) {
	defaultLogger.Infow(msg, keysAndValues...)
}

func Warnw(msg string, err error, keysAndValues ...interface{}) {
	defaultLogger.Warnw(msg, err, keysAndValues...)
}

func Errorw(msg string, err error, keysAndValues ...interface{}) {
	defaultLogger.Errorw(msg, err, keysAndValues...)
}

// InitFromConfig replaces the process-wide logger. name becomes the root
// component of every log line.
func InitFromConfig(conf Config, name string) {
	zapConf := zap.NewDevelopmentConfig()
	if conf.JSON {
		zapConf = zap.NewProductionConfig()
	}
	if conf.Level != "" {
		lvl := zapcore.Level(0)
		if err := lvl.UnmarshalText([]byte(conf.Level)); err == nil {
			zapConf.Level = zap.NewAtomicLevelAt(lvl)
		}
	}

	l, err := zapConf.Build(zap.AddCallerSkip(1))
	if err != nil {
		return
	}
	SetLogger(&zapLogger{sugar: l.Sugar().Named(name)})
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

func (l *zapLogger) Debugw(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l *zapLogger) Infow(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, keysAndValues...)
}

func (l *zapLogger) Warnw(msg string, err error, keysAndValues ...interface{}) {
	if err != nil {
		keysAndValues = append(keysAndValues, "error", err)
	}
	l.sugar.Warnw(msg, keysAndValues...)
}

func (l *zapLogger) Errorw(msg string, err error, keysAndValues ...interface{}) {
	if err != nil {
		keysAndValues = append(keysAndValues, "error", err)
	}
	l.sugar.Errorw(msg, keysAndValues...)
}

func (l *zapLogger) WithValues(keysAndValues ...interface{}) Logger {
	return &zapLogger{sugar: l.sugar.With(keysAndValues...)}
}

func (l *zapLogger) WithComponent(component string) Logger {
	return &zapLogger{sugar: l.sugar.Named(component)}
}
