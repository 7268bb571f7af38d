package cmd

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"
)

// envConfig holds run settings read from FARMSIM_* environment variables.
// A flag set on the command line always wins over its variable.
type envConfig struct {
	Config     string                      // FARMSIM_CONFIG
	LogLevel   string `split_words:"true"` // FARMSIM_LOG_LEVEL
	TraceLevel string `split_words:"true"` // FARMSIM_TRACE_LEVEL
	Algo       string                      // FARMSIM_ALGO
}

// applyEnv copies environment settings into the flag variables of cmd for
// every flag the user did not set explicitly.
func applyEnv(cmd *cobra.Command) error {
	var env envConfig
	if err := envconfig.Process("farmsim", &env); err != nil {
		return fmt.Errorf("processing environment: %w", err)
	}
	flags := cmd.Flags()
	for name, val := range map[string]string{
		"config":      env.Config,
		"log":         env.LogLevel,
		"trace-level": env.TraceLevel,
		"algo":        env.Algo,
	} {
		if val == "" || flags.Changed(name) {
			continue
		}
		if err := flags.Set(name, val); err != nil {
			return fmt.Errorf("applying environment to --%s: %w", name, err)
		}
	}
	return nil
}
