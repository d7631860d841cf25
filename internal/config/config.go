package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

const (
	// DefaultTypingInterval is the quiet window after the last typing signal
	// before a typing=false event is emitted.
	DefaultTypingInterval = 3 * time.Second
	// DefaultIdleTimeout is how long a session may go without a liveness ping
	// before the reaper expires it.
	DefaultIdleTimeout = 5 * time.Minute
	// DefaultSweepInterval is how often the reaper scans for idle sessions.
	DefaultSweepInterval = time.Minute

	DefaultRoom = "general"
)

type Config struct {
	ServerAddr     string
	DatabaseDSN    string
	SigningKey     []byte
	AllowedOrigins []string
	DefaultRoom    string
	TypingInterval time.Duration
	IdleTimeout    time.Duration
	SweepInterval  time.Duration
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string,
	typingInterval, idleTimeout, sweepInterval time.Duration) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	if typingInterval <= 0 {
		typingInterval = DefaultTypingInterval
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	if sweepInterval > idleTimeout {
		return nil, fmt.Errorf("sweep interval %s exceeds idle timeout %s", sweepInterval, idleTimeout)
	}

	return &Config{
		ServerAddr:     serverAddr,
		DatabaseDSN:    databaseDSN,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
		DefaultRoom:    DefaultRoom,
		TypingInterval: typingInterval,
		IdleTimeout:    idleTimeout,
		SweepInterval:  sweepInterval,
	}, nil
}
