// Arbor uses flags and a single config file for configuration.
// A config file is stored in .txtpb format and contains the values that can be set via flags.
// Flags given on the command line win over the config file.

package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
)

var configFilePath = flag.String("config_file", "arbor.txtpb", "Path to the configuration file.")

// InitFlags initializes the flags from the command line and the config file specified by the -config_file flag.
// It should be called after defining all flags and before using them. A missing config file is not an error.
func InitFlags() error {
	flag.Parse()
	explicit := make(map[ /*flagName*/ string]struct{})
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = struct{}{} })
	return loadConfigFile(*configFilePath, explicit)
}

// loadConfigFile sets the flags found in the config file at `path`, except the `explicit` ones.
func loadConfigFile(path string, explicit map[ /*flagName*/ string]struct{}) error {
	if path == "" {
		slog.Info("Config file not specified. Skipping config initialization.")
		return nil
	}

	configBytes, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("Config file does not exist.", "path", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	flags, err := parseConfig(configBytes)
	if err != nil {
		return fmt.Errorf("invalid config file %s: %w", path, err)
	}
	for flagName, flagValue := range flags {
		if _, given := explicit[flagName]; given {
			slog.Debug("Config file entry is overridden by command line.", "flag", flagName)
			continue
		}
		if err := flag.Set(flagName, flagValue); err != nil {
			return fmt.Errorf("failed to set flag %s: %w", flagName, err)
		}
	}
	return nil
}
