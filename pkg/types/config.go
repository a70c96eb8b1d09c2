package types

import "time"

// Supported backend modes.
const (
	BackendLocal  = "local"
	BackendRemote = "remote"
)

// EntitySessions is the reserved entity type for session records. It always
// routes to the local session store regardless of backend mode.
const EntitySessions = "sessions"

// RetryConfig bounds the retry queue's backoff schedule.
type RetryConfig struct {
	// MaxAttempts is the replay count after which a pending write is
	// abandoned.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`
	// Base is the first retry delay; each retry doubles it.
	Base time.Duration `json:"base" yaml:"base"`
	// Ceiling caps the delay growth.
	Ceiling time.Duration `json:"ceiling" yaml:"ceiling"`
	// Jitter is the randomization fraction applied to each delay, in
	// [0, 1). Zero disables jitter.
	Jitter float64 `json:"jitter" yaml:"jitter"`
}

// DefaultRetryConfig mirrors the production defaults: five attempts, one
// minute base, fifteen minute ceiling, half-interval jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		Base:        time.Minute,
		Ceiling:     15 * time.Minute,
		Jitter:      0.5,
	}
}

// Config selects the backend and carries its parameters. It is read once at
// startup, validated, and passed by value to constructors; changing it
// requires a restart.
type Config struct {
	// Backend is "local" or "remote".
	Backend string `json:"backend" yaml:"backend"`
	// DataDir is where the local store lives. Empty means an in-memory
	// database that does not survive the process.
	DataDir string `json:"data_dir" yaml:"data_dir"`
	// SessionPath is the session store file. Empty means sessions are
	// ephemeral by design and vanish with the process.
	SessionPath string `json:"session_path" yaml:"session_path"`

	// Remote endpoint identity and credentials. Exactly one credential
	// source may be set; a file path is preferred for long-running
	// deployments.
	SpreadsheetID   string `json:"spreadsheet_id" yaml:"spreadsheet_id"`
	CredentialsJSON string `json:"credentials_json" yaml:"credentials_json"`
	CredentialsFile string `json:"credentials_file" yaml:"credentials_file"`

	Retry RetryConfig `json:"retry" yaml:"retry"`
}

// Validate checks that the Config is well-formed, returning a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	switch c.Backend {
	case "":
		return ErrBackendEmpty
	case BackendLocal, BackendRemote:
	default:
		return ErrBackendUnknown
	}
	if c.Backend == BackendRemote {
		if c.SpreadsheetID == "" {
			return ErrSpreadsheetIDEmpty
		}
		if c.CredentialsJSON == "" && c.CredentialsFile == "" {
			return ErrCredentialsMissing
		}
		if c.CredentialsJSON != "" && c.CredentialsFile != "" {
			return ErrCredentialsBoth
		}
	}
	r := c.Retry
	if r.MaxAttempts <= 0 || r.Base <= 0 || r.Ceiling < r.Base || r.Jitter < 0 || r.Jitter >= 1 {
		return ErrRetryInvalid
	}
	return nil
}
