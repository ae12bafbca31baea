package configs

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg/utils"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	VerificationModeRPC  = "rpc"
	VerificationModeStub = "stub"
)

// Config holds application configuration for ledger-worker.
type Config struct {
	MetricsAddr                 string        `mapstructure:"METRICS_ADDR" validate:"required"`
	KafkaBrokers                string        `mapstructure:"KAFKA_BROKERS" validate:"required"`
	KafkaCommandTopic           string        `mapstructure:"KAFKA_COMMAND_TOPIC" validate:"required"`
	KafkaCommandConsumerGroup   string        `mapstructure:"KAFKA_COMMAND_CONSUMER_GROUP" validate:"required"`
	KafkaReplyTopic             string        `mapstructure:"KAFKA_REPLY_TOPIC" validate:"required"`
	KafkaDLQTopic               string        `mapstructure:"KAFKA_DLQ_TOPIC" validate:"required"`
	KafkaPartition              int           `mapstructure:"KAFKA_PARTITION" validate:"min=1"`
	PrimaryDbAddr               string        `mapstructure:"PRIMARY_DB_ADDR" validate:"required"`
	ReadDbAddr                  string        `mapstructure:"READ_DB_ADDR"`
	ReadFromReplica             bool          `mapstructure:"READ_FROM_REPLICA"` // Replica reads may lag behind a just-committed command
	MaxDbCons                   int32         `mapstructure:"MAX_DB_CONNECTIONS" validate:"min=1"`
	MinDbCons                   int32         `mapstructure:"MIN_DB_CONNECTIONS" validate:"min=1"`
	MaxConcurrentCommands       int           `mapstructure:"MAX_CONCURRENT_COMMANDS" validate:"min=1"` // Bounds open transactions; the read loop blocks when full
	ClaimTTL                    time.Duration `mapstructure:"CLAIM_TTL" validate:"required"`
	ReplyPublishMaxElapsed      time.Duration `mapstructure:"REPLY_PUBLISH_MAX_ELAPSED" validate:"required"`
	BcryptCost                  int           `mapstructure:"BCRYPT_COST" validate:"min=4,max=31"`
	VerificationMode            string        `mapstructure:"VERIFICATION_MODE" validate:"oneof=rpc stub"`
	VerificationTimeout         time.Duration `mapstructure:"VERIFICATION_TIMEOUT" validate:"required"`
	VerificationRequestChannel  string        `mapstructure:"VERIFICATION_REQUEST_CHANNEL" validate:"required_if=VerificationMode rpc"`
	VerificationStubValid       bool          `mapstructure:"VERIFICATION_STUB_VALID"`
	VerificationStubDelay       time.Duration `mapstructure:"VERIFICATION_STUB_DELAY"`
	RedisAddr                   string        `mapstructure:"REDIS_ADDR" validate:"required_if=VerificationMode rpc"`
	VerificationRateLimitPerSec int           `mapstructure:"VERIFICATION_RATE_LIMIT_PER_SEC" validate:"min=0"`
	VerificationBurst           int           `mapstructure:"VERIFICATION_BURST" validate:"min=1"`
	VerificationMaxThrottleWait time.Duration `mapstructure:"VERIFICATION_MAX_THROTTLE_WAIT"` // If getting a token takes longer than this, fail fast
}

func Load(logger *zap.Logger) (*Config, error) {
	viper.SetEnvPrefix("app") // Prefix for env vars
	viper.AutomaticEnv()

	// Default values
	viper.SetDefault("METRICS_ADDR", ":9102")
	viper.SetDefault("KAFKA_COMMAND_TOPIC", "ledger-commands")
	viper.SetDefault("KAFKA_COMMAND_CONSUMER_GROUP", "ledger-worker")
	viper.SetDefault("KAFKA_REPLY_TOPIC", "ledger-replies")
	viper.SetDefault("KAFKA_DLQ_TOPIC", "ledger-replies-dlq")
	viper.SetDefault("KAFKA_PARTITION", "4")
	viper.SetDefault("READ_FROM_REPLICA", "false")
	viper.SetDefault("MAX_DB_CONNECTIONS", "10")
	viper.SetDefault("MIN_DB_CONNECTIONS", "2")
	viper.SetDefault("MAX_CONCURRENT_COMMANDS", "8")
	viper.SetDefault("CLAIM_TTL", "2m")
	viper.SetDefault("REPLY_PUBLISH_MAX_ELAPSED", "30s")
	viper.SetDefault("BCRYPT_COST", "10")
	viper.SetDefault("VERIFICATION_MODE", VerificationModeRPC)
	viper.SetDefault("VERIFICATION_TIMEOUT", "5s")
	viper.SetDefault("VERIFICATION_REQUEST_CHANNEL", "reniec_operation")
	viper.SetDefault("VERIFICATION_STUB_VALID", "true")
	viper.SetDefault("VERIFICATION_RATE_LIMIT_PER_SEC", "20")
	viper.SetDefault("VERIFICATION_BURST", "5")
	viper.SetDefault("VERIFICATION_MAX_THROTTLE_WAIT", "1s")

	// Optional: Read from config.yaml if exists
	if gin.ReleaseMode == gin.Mode() {
		viper.SetConfigName("config.prod")
	} else if gin.TestMode == gin.Mode() {
		logger.Warn("running_in_test_mode")
		viper.SetConfigName("config.test")
	} else {
		logger.Warn("running_in_development_mode")
		viper.SetConfigName("config.dev")
	}
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./services/ledger-worker/configs")
	_ = viper.ReadInConfig() // Ignore if no file

	var cfg Config
	if err := utils.ParseStructEnv(&cfg); err != nil {
		return nil, err
	}

	// Validate after unmarshal
	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, utils.FormatConfigErrors(logger, err, cfg)
	}
	return &cfg, nil
}
