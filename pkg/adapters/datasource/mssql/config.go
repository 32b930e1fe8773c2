package mssql

import "fmt"

// Config contains SQL Server connection options. Only SQL authentication is supported.
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string

	Encrypt                bool
	TrustServerCertificate bool
	ConnectionTimeout      int
}

func DefaultPort() int { return 1433 }

// DefaultConnectionTimeout returns the default connection timeout in seconds.
func DefaultConnectionTimeout() int { return 30 }

// FromMap creates a Config from a generic config map.
func FromMap(config map[string]any) (*Config, error) {
	cfg := &Config{
		Port:              DefaultPort(),
		Encrypt:           true,
		ConnectionTimeout: DefaultConnectionTimeout(),
	}

	if host, ok := config["host"].(string); ok {
		cfg.Host = host
	}
	if database, ok := config["database"].(string); ok {
		cfg.Database = database
	}

	switch port := config["port"].(type) {
	case int:
		cfg.Port = port
	case float64: // JSON numbers
		cfg.Port = int(port)
	}

	if username, ok := config["username"].(string); ok && username != "" {
		cfg.Username = username
	} else if user, ok := config["user"].(string); ok {
		cfg.Username = user
	}
	if password, ok := config["password"].(string); ok {
		cfg.Password = password
	}

	switch encrypt := config["encrypt"].(type) {
	case bool:
		cfg.Encrypt = encrypt
	case string:
		// "true", "false", "strict"
		cfg.Encrypt = encrypt == "true" || encrypt == "strict"
	}
	// ssl_mode=disable is accepted as a synonym for encrypt=false so one source
	// config shape serves both adapters.
	if sslMode, ok := config["ssl_mode"].(string); ok && sslMode == "disable" {
		cfg.Encrypt = false
	}

	if trust, ok := config["trust_server_certificate"].(bool); ok {
		cfg.TrustServerCertificate = trust
	}

	switch timeout := config["connection_timeout"].(type) {
	case int:
		cfg.ConnectionTimeout = timeout
	case float64:
		cfg.ConnectionTimeout = int(timeout)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the config has all required fields.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Username == "" {
		return fmt.Errorf("username is required for SQL authentication")
	}
	return nil
}
