package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	// Access is a dedicated logger for one-line-per-request access log
	// records, kept separate from Logger so access volume never drowns
	// out operational logging and so it can be redirected independently.
	Access *zap.Logger
)

func Init(debug bool) error {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Encoding = "json"
	}

	logger, err := cfg.Build()
	if err != nil {
		return err
	}

	Logger = logger
	Sugar = logger.Sugar()

	accessCfg := zap.NewProductionConfig()
	accessCfg.Encoding = "json"
	accessCfg.EncoderConfig.TimeKey = "ts"
	accessCfg.EncoderConfig.MessageKey = "" // access records carry no free-text message
	accessLogger, err := accessCfg.Build()
	if err != nil {
		return err
	}
	Access = accessLogger.Named("access")

	return nil
}

func InitSilent() {
	Logger = zap.NewNop()
	Sugar = Logger.Sugar()
	Access = zap.NewNop()
}

func Sync() {
	if Logger != nil {
		Logger.Sync()
	}
}
