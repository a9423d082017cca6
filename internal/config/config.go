// Package config loads CloudShell's runtime settings from the environment.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gravitational/trace"
)

// Config holds every environment-derived setting the gateway needs.
type Config struct {
	SecretKey          string
	AdminUser          string
	AdminPassword      string
	TokenTTLHours      int
	AuditRetentionDays int
	DataDir            string
	DBPath             string
	KeysDir            string
	CORSOrigins        []string
	Addr               string
	StaticDir          string
}

// CheckAndSetDefaults fills in defaults and derived paths, mirroring the
// original settings module's model_post_init.
func (c *Config) CheckAndSetDefaults() error {
	if c.SecretKey == "" {
		c.SecretKey = "changeme-please-set-in-env"
	}
	if c.AdminUser == "" {
		c.AdminUser = "admin"
	}
	if c.AdminPassword == "" {
		c.AdminPassword = "changeme"
	}
	if c.TokenTTLHours == 0 {
		c.TokenTTLHours = 8
	}
	if c.AuditRetentionDays == 0 {
		c.AuditRetentionDays = 7
	}
	if c.DataDir == "" {
		c.DataDir = "/data"
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "cloudshell.db")
	}
	if c.KeysDir == "" {
		c.KeysDir = filepath.Join(c.DataDir, "keys")
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = []string{"*"}
	}
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.TokenTTLHours < 0 {
		return trace.BadParameter("token ttl hours must be non-negative")
	}
	if c.AuditRetentionDays < 0 {
		return trace.BadParameter("audit retention days must be non-negative")
	}
	return nil
}

// FromEnv builds a Config from process environment variables, applying the
// same defaults and derived-path rules as the Python settings module this
// gateway replaces.
func FromEnv() (*Config, error) {
	cfg := &Config{
		SecretKey:     os.Getenv("SECRET_KEY"),
		AdminUser:     os.Getenv("ADMIN_USER"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
		DataDir:       os.Getenv("DATA_DIR"),
		Addr:          os.Getenv("LISTEN_ADDR"),
		StaticDir:     os.Getenv("STATIC_DIR"),
	}

	if v := os.Getenv("TOKEN_TTL_HOURS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, trace.BadParameter("invalid TOKEN_TTL_HOURS: %v", err)
		}
		cfg.TokenTTLHours = n
	}
	if v := os.Getenv("AUDIT_RETENTION_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, trace.BadParameter("invalid AUDIT_RETENTION_DAYS: %v", err)
		}
		cfg.AuditRetentionDays = n
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		parts := strings.Split(v, ",")
		origins := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				origins = append(origins, p)
			}
		}
		cfg.CORSOrigins = origins
	}

	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return cfg, nil
}
