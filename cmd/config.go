package main

import "time"

type Config struct {
	Host                 string        `env:"HOST,default=0.0.0.0"`
	Port                 int           `env:"PORT,default=8080"`
	Environment          string        `env:"ENVIRONMENT,default=development"`
	LogLevel             string        `env:"LOG_LEVEL,default=info"`
	BadgerFilepath       string        `env:"BADGER_FILEPATH,required=true"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=32"`
	AuthTokenDuration    time.Duration `env:"AUTH_TOKEN_DURATION,default=24h"`
	HistoryLimit         *int          `env:"HISTORY_LIMIT"`
	TelemetryInterval    time.Duration `env:"TELEMETRY_INTERVAL,default=30s"`
}
