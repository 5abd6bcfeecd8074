package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/memsink/pkg/errors"
)

// EnvPrefix prefixes environment overrides, e.g. MEMSINK_LOAD_COMPRESSION.
const EnvPrefix = "MEMSINK"

// Load reads a YAML file over the defaults of NewSinkConfig. ${VAR}
// references in the file are substituted from the environment first, then
// MEMSINK_<SECTION>_<KEY> variables override individual keys. An empty
// path loads defaults plus environment.
func Load(filePath string) (*SinkConfig, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}

	if filePath != "" {
		data, err := os.ReadFile(filePath) //nolint:gosec // G304: path comes from the operator
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file")
		}

		content := substituteEnvVars(string(data))
		if err := v.MergeConfig(strings.NewReader(content)); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig,
				fmt.Sprintf("error reading configuration file '%s'", filePath))
		}
	}

	cfg := &SinkConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "unmarshalling config")
	}
	if cfg.Connection.Params == nil {
		cfg.Connection.Params = make(map[string]string)
	}

	return cfg, nil
}

// Save writes cfg as YAML.
func Save(filePath string, cfg *SinkConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to marshal YAML")
	}

	if err := os.WriteFile(filePath, data, 0600); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to write config file")
	}

	return nil
}

// newViper returns a viper instance seeded with every default key, so that
// AutomaticEnv can override any of them.
func newViper() (*viper.Viper, error) {
	defaults, err := yaml.Marshal(NewSinkConfig())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to marshal defaults")
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to load defaults")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}
