package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable that overrides a configuration key, e.g. the key
// postgres.connection.password is overridden by EVENTLOADER_POSTGRES_CONNECTION_PASSWORD.
const EnvPrefix = "EVENTLOADER"

// ReadConfig reads config.yaml from defaultPath, merges every file in overrides on top of it (in order), applies
// environment overrides and decodes the result into config. The viper instance is returned so that callers can
// inspect individual keys.
func ReadConfig(config interface{}, defaultPath string, overrides []string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(defaultPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.WithMessagef(err, "reading default config from %s", defaultPath)
	}

	for _, path := range overrides {
		if strings.TrimSpace(path) == "" {
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, errors.WithMessagef(err, "merging config file %s", path)
		}
		log.Infof("Merged config file %s", path)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(config); err != nil {
		return nil, errors.WithMessage(err, "decoding config")
	}
	return v, nil
}

// BindCommandlineArguments makes every registered pflag available through the global viper instance.
func BindCommandlineArguments(flags *pflag.FlagSet) {
	if err := viper.BindPFlags(flags); err != nil {
		log.Error(err)
		os.Exit(-1)
	}
}
