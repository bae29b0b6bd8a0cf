// Package config loads the runtime configuration.
//
// A configuration file is YAML (.yaml, .yml) or CUE (.cue, .json). Values
// from the environment (CARELINK_*) are applied on top of the file, and
// the result is validated as a whole.
package config

import (
	"fmt"
	"strings"

	"github.com/roach88/carelink/internal/backend/localdb"
)

// Backends.
const (
	BackendFirestore = "firestore"
	BackendLocal     = "local"
)

// Environments.
const (
	EnvDevelopment = "development"
	EnvTest        = "test"
	EnvProduction  = "production"
)

// DefaultLocalPath is the local database file when none is configured.
const DefaultLocalPath = "carelink.db"

// Config is the runtime configuration.
type Config struct {
	// Environment is development, test or production. Initialization
	// fallbacks are only reported loudly in production.
	Environment string `yaml:"environment" json:"environment" env:"CARELINK_ENVIRONMENT"`
	// Backend selects firestore or local.
	Backend string `yaml:"backend" json:"backend" env:"CARELINK_BACKEND"`
	// Workers is the size of the mutation worker pool.
	Workers int `yaml:"workers" json:"workers" env:"CARELINK_WORKERS"`

	Firebase Firebase `yaml:"firebase" json:"firebase"`
	Local    Local    `yaml:"local" json:"local"`
}

// Firebase holds the explicit app configuration used when ambient
// configuration is unavailable.
type Firebase struct {
	ProjectID        string `yaml:"project_id" json:"project_id" env:"CARELINK_FIREBASE_PROJECT_ID"`
	DatabaseURL      string `yaml:"database_url" json:"database_url" env:"CARELINK_FIREBASE_DATABASE_URL"`
	StorageBucket    string `yaml:"storage_bucket" json:"storage_bucket" env:"CARELINK_FIREBASE_STORAGE_BUCKET"`
	ServiceAccountID string `yaml:"service_account_id" json:"service_account_id" env:"CARELINK_FIREBASE_SERVICE_ACCOUNT_ID"`
	CredentialsFile  string `yaml:"credentials_file" json:"credentials_file" env:"CARELINK_FIREBASE_CREDENTIALS_FILE"`
	// SkipAuto disables the ambient (FIREBASE_CONFIG) attempt.
	SkipAuto bool `yaml:"skip_auto" json:"skip_auto" env:"CARELINK_FIREBASE_SKIP_AUTO"`
}

// HasStatic reports whether an explicit app configuration is present.
func (f Firebase) HasStatic() bool {
	return f.ProjectID != "" || f.CredentialsFile != ""
}

// Local configures the SQLite backend.
type Local struct {
	Path string `yaml:"path" json:"path" env:"CARELINK_LOCAL_PATH"`
	// Rules are the access rules; absent rules allow everything.
	Rules []localdb.Rule `yaml:"rules" json:"rules"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Backend:     BackendFirestore,
		Workers:     4,
		Local:       Local{Path: DefaultLocalPath},
	}
}

// IsProduction reports whether the environment is production.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// LocalRules compiles the local access rules.
func (c *Config) LocalRules() (*localdb.Rules, error) {
	if c.Local.Rules == nil {
		return localdb.AllowAll(), nil
	}
	return localdb.NewRules(c.Local.Rules)
}

// ValidationError describes one configuration problem.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Errors collects every problem found by Validate.
type Errors []ValidationError

func (e Errors) Error() string {
	parts := make([]string, len(e))
	for i, ve := range e {
		parts[i] = ve.Error()
	}
	return "invalid config: " + strings.Join(parts, "; ")
}

// Validate checks c and returns all problems found (not fail-fast).
func (c *Config) Validate() error {
	var errs Errors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch c.Environment {
	case EnvDevelopment, EnvTest, EnvProduction:
	default:
		add("environment", "must be one of development, test, production; got %q", c.Environment)
	}

	switch c.Backend {
	case BackendFirestore:
		if c.Firebase.SkipAuto && !c.Firebase.HasStatic() {
			add("firebase", "skip_auto requires project_id or credentials_file")
		}
	case BackendLocal:
		if c.Local.Path == "" {
			add("local.path", "required for the local backend")
		}
		if _, err := c.LocalRules(); err != nil {
			add("local.rules", "%v", err)
		}
	default:
		add("backend", "must be firestore or local; got %q", c.Backend)
	}

	if c.Workers < 1 {
		add("workers", "must be at least 1, got %d", c.Workers)
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}
