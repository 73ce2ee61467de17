// Package startup holds the small amount of process bootstrap code shared
// by every botrunner binary: logging setup and config file loading.
package startup

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ConfigureLogging sets the process-wide logrus output format.
func ConfigureLogging() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stdout)
}

// BindCommandlineArguments binds any pflags registered via init() into
// viper, so that flags and config file values compose the normal viper way.
func BindCommandlineArguments() {
	if err := viper.BindPFlags(pflag.CommandLine); err != nil {
		log.Errorf("failed to bind command line flags: %v", err)
		os.Exit(-1)
	}
}

// LoadConfig reads a "config.yaml" from path plus any user-specified
// override files, and unmarshals the merged result into config.
func LoadConfig(config interface{}, path string, userSpecifiedConfigs []string) {
	viper.SetConfigName("config")
	viper.AddConfigPath(path)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Error(err)
			os.Exit(-1)
		}
	}
	for _, c := range userSpecifiedConfigs {
		viper.SetConfigFile(c)
		if err := viper.MergeInConfig(); err != nil {
			log.Error(err)
			os.Exit(-1)
		}
	}
	if err := viper.Unmarshal(config); err != nil {
		log.Error(err)
		os.Exit(-1)
	}
}
