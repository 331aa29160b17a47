package embeddb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embeddb/embeddb/internal/pager"
)

func TestParseConnectionString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		connStr     string
		wantConfig  *ConnectionConfig
		wantErr     bool
		errContains string
	}{
		{
			name:    "simple path",
			connStr: "./test.db",
			wantConfig: &ConnectionConfig{
				FilePath:       "./test.db",
				JournalEnabled: true,
				LogLevel:       "warn",
				MaxCachedPages: 2000,
				SafetyLevel:    pager.SafetyFull,
				CodecName:      "none",
				BusyRetries:    5,
			},
		},
		{
			name:    "disable journal",
			connStr: "./test.db?journal=false",
			wantConfig: &ConnectionConfig{
				FilePath:       "./test.db",
				JournalEnabled: false,
				LogLevel:       "warn",
				MaxCachedPages: 2000,
				SafetyLevel:    pager.SafetyFull,
				CodecName:      "none",
				BusyRetries:    5,
			},
		},
		{
			name:    "set log level",
			connStr: "./test.db?log_level=debug",
			wantConfig: &ConnectionConfig{
				FilePath:       "./test.db",
				JournalEnabled: true,
				LogLevel:       "debug",
				MaxCachedPages: 2000,
				SafetyLevel:    pager.SafetyFull,
				CodecName:      "none",
				BusyRetries:    5,
			},
		},
		{
			name:    "set cache pages",
			connStr: "./test.db?cache_pages=500",
			wantConfig: &ConnectionConfig{
				FilePath:       "./test.db",
				JournalEnabled: true,
				LogLevel:       "warn",
				MaxCachedPages: 500,
				SafetyLevel:    pager.SafetyFull,
				CodecName:      "none",
				BusyRetries:    5,
			},
		},
		{
			name:    "off safety level",
			connStr: "./test.db?safety_level=off",
			wantConfig: &ConnectionConfig{
				FilePath:       "./test.db",
				JournalEnabled: true,
				LogLevel:       "warn",
				MaxCachedPages: 2000,
				SafetyLevel:    pager.SafetyOff,
				CodecName:      "none",
				BusyRetries:    5,
			},
		},
		{
			name:    "all parameters",
			connStr: "./test.db?journal=false&log_level=info&cache_pages=2500&safety_level=normal&codec=none",
			wantConfig: &ConnectionConfig{
				FilePath:       "./test.db",
				JournalEnabled: false,
				LogLevel:       "info",
				MaxCachedPages: 2500,
				SafetyLevel:    pager.SafetyNormal,
				CodecName:      "none",
				BusyRetries:    5,
			},
		},
		{
			name:        "invalid cache_pages - negative",
			connStr:     "./test.db?cache_pages=-100",
			wantErr:     true,
			errContains: "must be non-negative",
		},
		{
			name:        "invalid cache_pages - not a number",
			connStr:     "./test.db?cache_pages=abc",
			wantErr:     true,
			errContains: "must be a positive integer",
		},
		{
			name:        "invalid journal value",
			connStr:     "./test.db?journal=maybe",
			wantErr:     true,
			errContains: "invalid journal parameter",
		},
		{
			name:        "invalid safety_level value",
			connStr:     "./test.db?safety_level=extreme",
			wantErr:     true,
			errContains: "invalid safety_level parameter",
		},
		{
			name:        "invalid codec value",
			connStr:     "./test.db?codec=gzip",
			wantErr:     true,
			errContains: "invalid codec parameter",
		},
		{
			name:    "xor codec with key",
			connStr: "./test.db?codec=xor&codec_key=42",
			wantConfig: &ConnectionConfig{
				FilePath:       "./test.db",
				JournalEnabled: true,
				LogLevel:       "warn",
				MaxCachedPages: 2000,
				SafetyLevel:    pager.SafetyFull,
				CodecName:      "xor",
				CodecKey:       42,
				BusyRetries:    5,
			},
		},
		{
			name:        "xor codec without key",
			connStr:     "./test.db?codec=xor",
			wantErr:     true,
			errContains: "requires a non-zero codec_key",
		},
		{
			name:        "codec_key out of range",
			connStr:     "./test.db?codec=xor&codec_key=999",
			wantErr:     true,
			errContains: "invalid codec_key parameter",
		},
		{
			name:    "custom busy_retries",
			connStr: "./test.db?busy_retries=0",
			wantConfig: &ConnectionConfig{
				FilePath:       "./test.db",
				JournalEnabled: true,
				LogLevel:       "warn",
				MaxCachedPages: 2000,
				SafetyLevel:    pager.SafetyFull,
				CodecName:      "none",
				BusyRetries:    0,
			},
		},
		{
			name:        "invalid busy_retries",
			connStr:     "./test.db?busy_retries=-1",
			wantErr:     true,
			errContains: "invalid busy_retries parameter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := ParseConnectionString(tt.connStr)

			if tt.wantErr {
				require.Error(t, err)
				if tt.errContains != "" {
					assert.Contains(t, err.Error(), tt.errContains)
				}
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantConfig, config)
		})
	}
}

func TestConnectionConfig_CodecAndBusyHandler(t *testing.T) {
	t.Parallel()

	none := DefaultConnectionConfig("./test.db")
	assert.Nil(t, none.Codec())

	xor := DefaultConnectionConfig("./test.db")
	xor.CodecName = "xor"
	xor.CodecKey = 0x5a
	assert.Equal(t, XORCodec{Key: 0x5a}, xor.Codec())

	noRetry := DefaultConnectionConfig("./test.db")
	noRetry.BusyRetries = 0
	assert.Equal(t, pager.NoRetryBusyHandler{}, noRetry.BusyHandler())

	bounded := DefaultConnectionConfig("./test.db")
	bounded.BusyRetries = 3
	assert.Equal(t, pager.BoundedBusyHandler{MaxAttempts: 3}, bounded.BusyHandler())
}
