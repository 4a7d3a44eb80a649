package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig_LoadFromFile(t *testing.T) {
	testConfig := `[JS8Call]
Host=192.168.1.20
Port=2443
ReconnectDelay=2500
RequestTimeout=8000
Debug=1

[Station]
PollInterval=30

[Database]
Enabled=1
Path=/var/lib/js8chat/messages.db
MessageLimit=250
Debug=0

[HTTP]
Enabled=1
Address=127.0.0.1:8080
AllowOrigin=http://localhost:5173

[Log]
Debug=yes
FilePath=/var/log/js8chat.log`

	path := filepath.Join(t.TempDir(), "js8chat.ini")
	if err := os.WriteFile(path, []byte(testConfig), 0o644); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}

	config := NewConfig(path)
	if err := config.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// JS8Call section
	if config.GetJS8Host() != "192.168.1.20" {
		t.Errorf("GetJS8Host() = %q, want %q", config.GetJS8Host(), "192.168.1.20")
	}
	if config.GetJS8Port() != 2443 {
		t.Errorf("GetJS8Port() = %d, want 2443", config.GetJS8Port())
	}
	if config.GetJS8ReconnectDelay() != 2500*time.Millisecond {
		t.Errorf("GetJS8ReconnectDelay() = %v, want 2.5s", config.GetJS8ReconnectDelay())
	}
	if config.GetJS8RequestTimeout() != 8*time.Second {
		t.Errorf("GetJS8RequestTimeout() = %v, want 8s", config.GetJS8RequestTimeout())
	}
	if !config.GetJS8Debug() {
		t.Error("GetJS8Debug() = false, want true")
	}

	// Station section
	if config.GetStationPollInterval() != 30*time.Second {
		t.Errorf("GetStationPollInterval() = %v, want 30s", config.GetStationPollInterval())
	}

	// Database section
	if config.GetDatabasePath() != "/var/lib/js8chat/messages.db" {
		t.Errorf("GetDatabasePath() = %q", config.GetDatabasePath())
	}
	if config.GetDatabaseMessageLimit() != 250 {
		t.Errorf("GetDatabaseMessageLimit() = %d, want 250", config.GetDatabaseMessageLimit())
	}

	// HTTP section
	if config.GetHTTPAddress() != "127.0.0.1:8080" {
		t.Errorf("GetHTTPAddress() = %q, want %q", config.GetHTTPAddress(), "127.0.0.1:8080")
	}
	if config.GetHTTPAllowOrigin() != "http://localhost:5173" {
		t.Errorf("GetHTTPAllowOrigin() = %q", config.GetHTTPAllowOrigin())
	}

	// Log section
	if !config.GetLogDebug() {
		t.Error("GetLogDebug() = false, want true")
	}
	if config.GetLogFilePath() != "/var/log/js8chat.log" {
		t.Errorf("GetLogFilePath() = %q", config.GetLogFilePath())
	}
}

func TestConfig_DefaultValues(t *testing.T) {
	config := NewConfig("")

	if config.GetJS8Host() != "localhost" {
		t.Errorf("GetJS8Host() default = %q, want localhost", config.GetJS8Host())
	}
	if config.GetJS8Port() != 2442 {
		t.Errorf("GetJS8Port() default = %d, want 2442", config.GetJS8Port())
	}
	if config.GetJS8ReconnectDelay() != 5*time.Second {
		t.Errorf("GetJS8ReconnectDelay() default = %v, want 5s", config.GetJS8ReconnectDelay())
	}
	if config.GetJS8RequestTimeout() != 5*time.Second {
		t.Errorf("GetJS8RequestTimeout() default = %v, want 5s", config.GetJS8RequestTimeout())
	}
	if config.GetStationPollInterval() != 10*time.Second {
		t.Errorf("GetStationPollInterval() default = %v, want 10s", config.GetStationPollInterval())
	}
	if !config.GetDatabaseEnabled() {
		t.Error("GetDatabaseEnabled() default = false, want true")
	}
	if config.GetDatabasePath() != "data/messages.db" {
		t.Errorf("GetDatabasePath() default = %q", config.GetDatabasePath())
	}
	if config.GetDatabaseMessageLimit() != 100 {
		t.Errorf("GetDatabaseMessageLimit() default = %d, want 100", config.GetDatabaseMessageLimit())
	}
	if !config.GetHTTPEnabled() || config.GetHTTPAddress() != ":3000" || config.GetHTTPAllowOrigin() != "*" {
		t.Errorf("HTTP defaults = %v %q %q", config.GetHTTPEnabled(), config.GetHTTPAddress(), config.GetHTTPAllowOrigin())
	}
	if config.GetLogDebug() || config.GetLogFilePath() != "" {
		t.Errorf("Log defaults = %v %q", config.GetLogDebug(), config.GetLogFilePath())
	}
}

func TestConfig_InvalidFile(t *testing.T) {
	config := NewConfig("/nonexistent/file.ini")
	if err := config.Load(); err == nil {
		t.Error("Load() with nonexistent file should return error")
	}
}

func TestConfig_BooleanValues(t *testing.T) {
	tests := []struct {
		name     string
		config   string
		getValue func(*Config) bool
		want     bool
	}{
		{
			name:     "JS8 debug with 1",
			config:   "[JS8Call]\nDebug=1",
			getValue: func(c *Config) bool { return c.GetJS8Debug() },
			want:     true,
		},
		{
			name:     "JS8 debug with TRUE",
			config:   "[JS8Call]\nDebug=TRUE",
			getValue: func(c *Config) bool { return c.GetJS8Debug() },
			want:     true,
		},
		{
			name:     "database disabled with 0",
			config:   "[Database]\nEnabled=0",
			getValue: func(c *Config) bool { return c.GetDatabaseEnabled() },
			want:     false,
		},
		{
			name:     "http disabled with no",
			config:   "[HTTP]\nEnabled=no",
			getValue: func(c *Config) bool { return c.GetHTTPEnabled() },
			want:     false,
		},
		{
			name:     "database debug with yes",
			config:   "[Database]\nDebug=yes",
			getValue: func(c *Config) bool { return c.GetDatabaseDebug() },
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := NewConfig("")
			if err := config.LoadFromString(tt.config); err != nil {
				t.Fatalf("LoadFromString() error = %v", err)
			}

			if got := tt.getValue(config); got != tt.want {
				t.Errorf("getValue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfig_ZeroReconnectDelayKeepsDefault(t *testing.T) {
	config := NewConfig("")
	if err := config.LoadFromString("[JS8Call]\nReconnectDelay=0\n"); err != nil {
		t.Fatalf("LoadFromString() error = %v", err)
	}
	if config.GetJS8ReconnectDelay() != 5*time.Second {
		t.Errorf("GetJS8ReconnectDelay() = %v, want 5s", config.GetJS8ReconnectDelay())
	}
}

func TestConfig_InvalidNumbersKeepDefaults(t *testing.T) {
	testConfig := `[JS8Call]
Port=not-a-port
ReconnectDelay=-5

[Station]
PollInterval=soon

[Database]
MessageLimit=0`

	config := NewConfig("")
	if err := config.LoadFromString(testConfig); err != nil {
		t.Fatalf("LoadFromString() error = %v", err)
	}

	if config.GetJS8Port() != 2442 {
		t.Errorf("GetJS8Port() = %d, want 2442", config.GetJS8Port())
	}
	if config.GetJS8ReconnectDelay() != 5*time.Second {
		t.Errorf("GetJS8ReconnectDelay() = %v, want 5s", config.GetJS8ReconnectDelay())
	}
	if config.GetStationPollInterval() != 10*time.Second {
		t.Errorf("GetStationPollInterval() = %v, want 10s", config.GetStationPollInterval())
	}
	if config.GetDatabaseMessageLimit() != 100 {
		t.Errorf("GetDatabaseMessageLimit() = %d, want 100", config.GetDatabaseMessageLimit())
	}
}

func TestConfig_PortOutOfRange(t *testing.T) {
	config := NewConfig("")
	if err := config.LoadFromString("[JS8Call]\nPort=70000"); err != nil {
		t.Fatalf("LoadFromString() error = %v", err)
	}
	if config.GetJS8Port() != 2442 {
		t.Errorf("GetJS8Port() = %d, want default 2442", config.GetJS8Port())
	}
}

func TestConfig_CommentedLines(t *testing.T) {
	testConfig := `[JS8Call]
Host=radio.local
# This is a comment
#Port=1111
; semicolon comment
Port=2450`

	config := NewConfig("")
	if err := config.LoadFromString(testConfig); err != nil {
		t.Fatalf("LoadFromString() error = %v", err)
	}

	if config.GetJS8Host() != "radio.local" {
		t.Errorf("GetJS8Host() = %q, want %q", config.GetJS8Host(), "radio.local")
	}
	if config.GetJS8Port() != 2450 {
		t.Errorf("GetJS8Port() = %d, want 2450", config.GetJS8Port())
	}
}

func TestConfig_MissingSection(t *testing.T) {
	testConfig := `[Nonexistent Section]
Host=elsewhere`

	config := NewConfig("")
	if err := config.LoadFromString(testConfig); err != nil {
		t.Fatalf("LoadFromString() error = %v", err)
	}

	if config.GetJS8Host() != "localhost" {
		t.Errorf("GetJS8Host() with unknown section = %q, want localhost", config.GetJS8Host())
	}
}

func BenchmarkConfig_Load(b *testing.B) {
	testConfig := `[JS8Call]
Host=localhost
Port=2442

[Database]
Path=data/messages.db`

	path := filepath.Join(b.TempDir(), "bench.ini")
	if err := os.WriteFile(path, []byte(testConfig), 0o644); err != nil {
		b.Fatalf("Failed to write temp file: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		config := NewConfig(path)
		config.Load()
	}
}
