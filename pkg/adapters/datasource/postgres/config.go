package postgres

import "fmt"

// Config contains PostgreSQL-specific connection options.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // "disable", "require", "verify-ca", "verify-full"
}

func DefaultPort() int { return 5432 }

func DefaultSSLMode() string { return "require" }

// FromMap creates a Config from a generic config map.
func FromMap(config map[string]any) (*Config, error) {
	cfg := &Config{
		Port:    DefaultPort(),
		SSLMode: DefaultSSLMode(),
	}

	var ok bool
	if cfg.Host, ok = config["host"].(string); !ok || cfg.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if cfg.User, ok = config["user"].(string); !ok || cfg.User == "" {
		return nil, fmt.Errorf("user is required")
	}
	if cfg.Database, ok = config["database"].(string); !ok || cfg.Database == "" {
		return nil, fmt.Errorf("database is required")
	}

	switch port := config["port"].(type) {
	case int:
		cfg.Port = port
	case float64: // JSON numbers
		cfg.Port = int(port)
	}

	if password, ok := config["password"].(string); ok {
		cfg.Password = password
	}
	if sslMode, ok := config["ssl_mode"].(string); ok && sslMode != "" {
		cfg.SSLMode = sslMode
	}

	return cfg, nil
}
