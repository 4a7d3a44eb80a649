package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents the js8chat configuration
type Config struct {
	filename string

	// JS8Call section
	js8Host           string
	js8Port           uint32
	js8ReconnectDelay uint32 // ms
	js8RequestTimeout uint32 // ms
	js8Debug          bool

	// Station section
	stationPollInterval uint32 // seconds

	// Database section
	databaseEnabled      bool
	databasePath         string
	databaseMessageLimit uint32
	databaseDebug        bool

	// HTTP section
	httpEnabled     bool
	httpAddress     string
	httpAllowOrigin string

	// Log section
	logDebug    bool
	logFilePath string
}

// NewConfig creates a new configuration instance
func NewConfig(filename string) *Config {
	return &Config{
		filename: filename,
		// Defaults match a stock JS8Call install on the same machine
		js8Host:           "localhost",
		js8Port:           2442,
		js8ReconnectDelay: 5000,
		js8RequestTimeout: 5000,

		stationPollInterval: 10,

		databaseEnabled:      true,
		databasePath:         "data/messages.db",
		databaseMessageLimit: 100,

		httpEnabled:     true,
		httpAddress:     ":3000",
		httpAllowOrigin: "*",
	}
}

// Load loads configuration from the specified file
func (c *Config) Load() error {
	file, err := os.Open(c.filename)
	if err != nil {
		return fmt.Errorf("failed to open config file %s: %w", c.filename, err)
	}
	defer file.Close()

	return c.parseINIScanner(bufio.NewScanner(file))
}

// LoadFromString loads configuration from a string (useful for testing)
func (c *Config) LoadFromString(data string) error {
	return c.parseINIScanner(bufio.NewScanner(strings.NewReader(data)))
}

func (c *Config) parseINIScanner(scanner *bufio.Scanner) error {
	var currentSection string

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if len(line) == 0 || line[0] == '#' || line[0] == ';' {
			continue
		}

		if line[0] == '[' && line[len(line)-1] == ']' {
			currentSection = strings.TrimSpace(line[1 : len(line)-1])
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch currentSection {
		case "JS8Call":
			c.parseJS8CallSection(key, value)
		case "Station":
			c.parseStationSection(key, value)
		case "Database":
			c.parseDatabaseSection(key, value)
		case "HTTP":
			c.parseHTTPSection(key, value)
		case "Log":
			c.parseLogSection(key, value)
		}
	}

	return scanner.Err()
}

func (c *Config) parseJS8CallSection(key, value string) {
	switch key {
	case "Host":
		c.js8Host = value
	case "Port":
		if v, err := strconv.ParseUint(value, 10, 16); err == nil {
			c.js8Port = uint32(v)
		}
	case "ReconnectDelay":
		// zero would redial a dead controller in a tight loop
		if v, err := strconv.ParseUint(value, 10, 32); err == nil && v > 0 {
			c.js8ReconnectDelay = uint32(v)
		}
	case "RequestTimeout":
		if v, err := strconv.ParseUint(value, 10, 32); err == nil {
			c.js8RequestTimeout = uint32(v)
		}
	case "Debug":
		c.js8Debug = c.parseBool(value)
	}
}

func (c *Config) parseStationSection(key, value string) {
	switch key {
	case "PollInterval":
		if v, err := strconv.ParseUint(value, 10, 32); err == nil {
			c.stationPollInterval = uint32(v)
		}
	}
}

func (c *Config) parseDatabaseSection(key, value string) {
	switch key {
	case "Enabled":
		c.databaseEnabled = c.parseBool(value)
	case "Path":
		c.databasePath = value
	case "MessageLimit":
		if v, err := strconv.ParseUint(value, 10, 32); err == nil && v > 0 {
			c.databaseMessageLimit = uint32(v)
		}
	case "Debug":
		c.databaseDebug = c.parseBool(value)
	}
}

func (c *Config) parseHTTPSection(key, value string) {
	switch key {
	case "Enabled":
		c.httpEnabled = c.parseBool(value)
	case "Address":
		c.httpAddress = value
	case "AllowOrigin":
		c.httpAllowOrigin = value
	}
}

func (c *Config) parseLogSection(key, value string) {
	switch key {
	case "Debug":
		c.logDebug = c.parseBool(value)
	case "FilePath":
		c.logFilePath = value
	}
}

func (c *Config) parseBool(value string) bool {
	return value == "1" || strings.ToLower(value) == "true" || strings.ToLower(value) == "yes"
}

// Getter methods for JS8Call section
func (c *Config) GetJS8Host() string  { return c.js8Host }
func (c *Config) GetJS8Port() uint32  { return c.js8Port }
func (c *Config) GetJS8Debug() bool   { return c.js8Debug }

// GetJS8ReconnectDelay returns the pause between reconnect attempts
func (c *Config) GetJS8ReconnectDelay() time.Duration {
	return time.Duration(c.js8ReconnectDelay) * time.Millisecond
}

// GetJS8RequestTimeout returns how long a command waits for its response
func (c *Config) GetJS8RequestTimeout() time.Duration {
	return time.Duration(c.js8RequestTimeout) * time.Millisecond
}

// GetStationPollInterval returns the station refresh period. Zero disables polling.
func (c *Config) GetStationPollInterval() time.Duration {
	return time.Duration(c.stationPollInterval) * time.Second
}

// Getter methods for Database section
func (c *Config) GetDatabaseEnabled() bool        { return c.databaseEnabled }
func (c *Config) GetDatabasePath() string         { return c.databasePath }
func (c *Config) GetDatabaseMessageLimit() uint32 { return c.databaseMessageLimit }
func (c *Config) GetDatabaseDebug() bool          { return c.databaseDebug }

// Getter methods for HTTP section
func (c *Config) GetHTTPEnabled() bool       { return c.httpEnabled }
func (c *Config) GetHTTPAddress() string     { return c.httpAddress }
func (c *Config) GetHTTPAllowOrigin() string { return c.httpAllowOrigin }

// Getter methods for Log section
func (c *Config) GetLogDebug() bool      { return c.logDebug }
func (c *Config) GetLogFilePath() string { return c.logFilePath }
