package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/yln-platform/sheetstore/pkg/types"
)

// Config keys.
const (
	cfgKeyBackend          = "backend"
	cfgKeyDataDir          = "data_dir"
	cfgKeySessionPath      = "session_path"
	cfgKeySpreadsheetID    = "spreadsheet_id"
	cfgKeyCredentialsJSON  = "credentials_json"
	cfgKeyCredentialsFile  = "credentials_file"
	cfgKeyRetryMaxAttempts = "retry.max_attempts"
	cfgKeyRetryBase        = "retry.base"
	cfgKeyRetryCeiling     = "retry.ceiling"
	cfgKeyRetryJitter      = "retry.jitter"
)

// loadConfig reads config.yaml (the given file, or ./config.yaml when
// empty) with SHEETSTORE_* environment overrides, and validates the
// result. A missing config file is not an error: the defaults describe a
// working local-only setup.
func loadConfig(configFile string) (types.Config, error) {
	v := viper.New()

	defaults := types.DefaultRetryConfig()
	v.SetDefault(cfgKeyBackend, types.BackendLocal)
	v.SetDefault(cfgKeyRetryMaxAttempts, defaults.MaxAttempts)
	v.SetDefault(cfgKeyRetryBase, defaults.Base)
	v.SetDefault(cfgKeyRetryCeiling, defaults.Ceiling)
	v.SetDefault(cfgKeyRetryJitter, defaults.Jitter)

	v.SetEnvPrefix("SHEETSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return types.Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := types.Config{
		Backend:         v.GetString(cfgKeyBackend),
		DataDir:         v.GetString(cfgKeyDataDir),
		SessionPath:     v.GetString(cfgKeySessionPath),
		SpreadsheetID:   v.GetString(cfgKeySpreadsheetID),
		CredentialsJSON: v.GetString(cfgKeyCredentialsJSON),
		CredentialsFile: v.GetString(cfgKeyCredentialsFile),
		Retry: types.RetryConfig{
			MaxAttempts: v.GetInt(cfgKeyRetryMaxAttempts),
			Base:        v.GetDuration(cfgKeyRetryBase),
			Ceiling:     v.GetDuration(cfgKeyRetryCeiling),
			Jitter:      v.GetFloat64(cfgKeyRetryJitter),
		},
	}
	if err := cfg.Validate(); err != nil {
		return types.Config{}, err
	}
	return cfg, nil
}
