package config

import (
	"log"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Battle    BattleConfig    `mapstructure:"battle"`
	RateLimit RateLimitConfig `mapstructure:"rateLimit"`
	Judge     JudgeConfig     `mapstructure:"judge"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Expire int    `mapstructure:"expire"` // hours
}

type BattleConfig struct {
	MaxBetAmount          int64   `mapstructure:"maxBetAmount"`
	CountdownSeconds      int     `mapstructure:"countdownSeconds"`
	SubmitCooldownSeconds int     `mapstructure:"submitCooldownSeconds"`
	LockTTLSeconds        int     `mapstructure:"lockTtlSeconds"`
	LockRetries           int     `mapstructure:"lockRetries"`
	LockRetryDelayMs      int     `mapstructure:"lockRetryDelayMs"`
	PostGameSeconds       int     `mapstructure:"postGameSeconds"`
	CountdownGraceSeconds int     `mapstructure:"countdownGraceSeconds"`
	SweepIntervalSeconds  int     `mapstructure:"sweepIntervalSeconds"`
	RakeRatio             float64 `mapstructure:"rakeRatio"`

	DisconnectGraceSeconds      int `mapstructure:"disconnectGraceSeconds"`
	DisconnectStrikeLimit       int `mapstructure:"disconnectStrikeLimit"`
	DisconnectSuspensionMinutes int `mapstructure:"disconnectSuspensionMinutes"`
}

type RateLimitConfig struct {
	FreeDailyLimit int `mapstructure:"freeDailyLimit"`
}

type JudgeConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	TimeoutSeconds int    `mapstructure:"timeoutSeconds"`
	UseStub        bool   `mapstructure:"useStub"`
}

var GlobalConfig *Config

func LoadConfig(path string) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("Error reading config file, %s", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}
	GlobalConfig = &cfg
}
