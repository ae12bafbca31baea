package pkg

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Logger *zap.Logger

// InitLogger initializes the global Logger from the gin mode (release -> JSON to stdout, otherwise colored development output).
func InitLogger() {
	Logger = NewLogger(gin.Mode())
}

// NewLogger builds a logger for the given gin mode without touching the global.
func NewLogger(mode string) *zap.Logger {
	var config zap.Config
	if gin.ReleaseMode == mode {
		config = zap.NewProductionConfig()
		config.OutputPaths = []string{"stdout"}
		config.ErrorOutputPaths = []string{"stderr"}
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	logger, err := config.Build(zap.AddStacktrace(zap.DPanicLevel))
	if err != nil {
		panic(err)
	}
	return logger
}
