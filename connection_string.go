package embeddb

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/embeddb/embeddb/internal/pager"
)

// ConnectionConfig holds parsed connection string parameters.
type ConnectionConfig struct {
	FilePath       string // database file path, or ":memory:"
	JournalEnabled bool   // enable/disable the rollback journal (default: true)
	LogLevel       string // debug, info, warn, error (default: warn)
	MaxCachedPages int    // maximum number of pages to cache (default: 2000)
	SafetyLevel    pager.SafetyLevel
	CodecName      string // "none" or "xor"
	CodecKey       byte   // XOR key, only meaningful when CodecName == "xor"
	BusyRetries    int    // max busy-handler retries; 0 means fail immediately
}

// DefaultConnectionConfig returns default configuration.
func DefaultConnectionConfig(filePath string) *ConnectionConfig {
	return &ConnectionConfig{
		FilePath:       filePath,
		JournalEnabled: true,
		LogLevel:       "warn",
		MaxCachedPages: 2000,
		SafetyLevel:    pager.SafetyFull,
		CodecName:      "none",
		BusyRetries:    5,
	}
}

// Codec builds the pager.Codec this configuration names.
func (c *ConnectionConfig) Codec() pager.Codec {
	if c.CodecName == "xor" {
		return XORCodec{Key: c.CodecKey}
	}
	return nil
}

// BusyHandler builds the pager.BusyHandler this configuration names.
func (c *ConnectionConfig) BusyHandler() pager.BusyHandler {
	if c.BusyRetries <= 0 {
		return pager.NoRetryBusyHandler{}
	}
	return pager.BoundedBusyHandler{MaxAttempts: c.BusyRetries}
}

// ParseConnectionString parses a connection string with optional query
// parameters.
//
// Format: /path/to/database.db?param1=value1&param2=value2
//
// Supported parameters:
//   - journal=true|false           : enable/disable the rollback journal (default: true)
//   - log_level=debug|info|warn|error
//   - cache_pages=<n>              : maximum cached pages (default: 2000)
//   - safety_level=full|normal|off
//   - codec=none|xor               : page/journal transform (default: none)
//   - codec_key=<0-255>            : XOR key, required when codec=xor
//   - busy_retries=<n>             : lock-retry attempts before BUSY (default: 5)
//
// Examples:
//   - "./my.db"
//   - "./my.db?journal=false"
//   - "./my.db?safety_level=off&cache_pages=500"
func ParseConnectionString(connStr string) (*ConnectionConfig, error) {
	parts := strings.SplitN(connStr, "?", 2)

	config := DefaultConnectionConfig(parts[0])

	if len(parts) == 1 {
		return config, nil
	}

	queryParams, err := url.ParseQuery(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid connection string query parameters: %w", err)
	}

	if journalStr := queryParams.Get("journal"); journalStr != "" {
		journal, err := strconv.ParseBool(journalStr)
		if err != nil {
			return nil, fmt.Errorf("invalid journal parameter: must be 'true' or 'false', got %q", journalStr)
		}
		config.JournalEnabled = journal
	}

	if logLevel := queryParams.Get("log_level"); logLevel != "" {
		logLevel = strings.ToLower(logLevel)
		switch logLevel {
		case "debug", "info", "warn", "error":
			config.LogLevel = logLevel
		default:
			return nil, fmt.Errorf("invalid log_level parameter: must be 'debug', 'info', 'warn', or 'error', got %q", logLevel)
		}
	}

	if cachePagesStr := queryParams.Get("cache_pages"); cachePagesStr != "" {
		cachePages, err := strconv.Atoi(cachePagesStr)
		if err != nil {
			return nil, fmt.Errorf("invalid cache_pages parameter: must be a positive integer, got %q", cachePagesStr)
		}
		if cachePages < 0 {
			return nil, fmt.Errorf("invalid cache_pages parameter: must be non-negative, got %d", cachePages)
		}
		config.MaxCachedPages = cachePages
	}

	if safetyStr := queryParams.Get("safety_level"); safetyStr != "" {
		safetyStr = strings.ToLower(safetyStr)
		switch safetyStr {
		case "off":
			config.SafetyLevel = pager.SafetyOff
		case "normal":
			config.SafetyLevel = pager.SafetyNormal
		case "full":
			config.SafetyLevel = pager.SafetyFull
		default:
			return nil, fmt.Errorf("invalid safety_level parameter: must be 'off', 'normal', or 'full', got %q", safetyStr)
		}
	}

	if codec := queryParams.Get("codec"); codec != "" {
		codec = strings.ToLower(codec)
		switch codec {
		case "none", "xor":
			config.CodecName = codec
		default:
			return nil, fmt.Errorf("invalid codec parameter: must be 'none' or 'xor', got %q", codec)
		}
	}

	if codecKeyStr := queryParams.Get("codec_key"); codecKeyStr != "" {
		key, err := strconv.Atoi(codecKeyStr)
		if err != nil || key < 0 || key > 255 {
			return nil, fmt.Errorf("invalid codec_key parameter: must be 0-255, got %q", codecKeyStr)
		}
		config.CodecKey = byte(key)
	}
	if config.CodecName == "xor" && config.CodecKey == 0 {
		return nil, fmt.Errorf("codec=xor requires a non-zero codec_key")
	}

	if busyStr := queryParams.Get("busy_retries"); busyStr != "" {
		n, err := strconv.Atoi(busyStr)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid busy_retries parameter: must be a non-negative integer, got %q", busyStr)
		}
		config.BusyRetries = n
	}

	return config, nil
}

// GetZapLevel converts the configured log level string to a zap atomic level.
func (c *ConnectionConfig) GetZapLevel() zap.AtomicLevel {
	switch c.LogLevel {
	case "debug":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	}
}
