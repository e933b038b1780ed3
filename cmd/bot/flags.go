package main

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Albermonte/validator-election-bot/internal/config"
)

func addFlags(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("config", "", "path to config file")
	flags.String("data-dir", "", "path to data directory")
	flags.String("log-level", "", "log level (debug, info, warn, error)")

	_ = v.BindPFlag("config", flags.Lookup("config"))
	_ = v.BindPFlag("data_dir", flags.Lookup("data-dir"))
	_ = v.BindPFlag("advanced.log_level", flags.Lookup("log-level"))

	_ = v.BindEnv("advanced.log_level", "LOG_LEVEL")
	_ = v.BindEnv("telegram.token", "TELEGRAM_BOT_TOKEN")
	_ = v.BindEnv("chain.rpc", "NIMIQ_RPC_URL")
	_ = v.BindEnv("chain.ws", "NIMIQ_WS_URL")
	_ = v.BindEnv("storage.dsn", "DATABASE_URL")
}

// resolvePaths returns the config file path and the data directory. Both
// default to ~/.election-bot.
func resolvePaths(configFile, dataDir string) (string, string, error) {
	var configPath, baseDir string
	if configFile != "" {
		abs, err := filepath.Abs(configFile)
		if err != nil {
			return "", "", err
		}
		configPath, baseDir = abs, filepath.Dir(abs)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		baseDir = filepath.Join(home, ".election-bot")
		configPath = filepath.Join(baseDir, "config.yml")
	}

	if dataDir == "" {
		dataDir = filepath.Join(baseDir, "data")
	}
	return configPath, dataDir, nil
}

func ensureDefaultConfig(path string, example []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	if len(example) == 0 {
		return errors.New("embedded config.example.yml is empty")
	}

	return os.WriteFile(path, example, 0o644)
}

func applyDataDirDefaults(cfg *config.Config, dataDir string) {
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = filepath.Join(dataDir, "subscribers.json")
	}
}
