package internal

import (
	"fmt"
	"path/filepath"

	"github.com/cineview/cineview/internal/api"
	"github.com/cineview/cineview/internal/connectivity"
	"github.com/cineview/cineview/internal/database"
	"github.com/cineview/cineview/internal/http/tmdb"
	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/mitchellh/go-homedir"
)

const CINEVIEW_USER_DIR_SUFFIX = ".cineview"

// CineviewConfig is the struct used to contain the various user config
// supplied by file, environment, or manually inside the code.
type CineviewConfig struct {
	Database     database.DatabaseConfig `yaml:"database"`
	Tmdb         tmdb.Config             `yaml:"tmdb"`
	Connectivity connectivity.Config     `yaml:"connectivity"`
	Rest         api.RestConfig          `yaml:"api"`
	DataDirPath  string                  `yaml:"data_dir" env:"DATA_DIR"`
}

// LoadFromFile loads a configuration file formatted in YAML in to a
// CineviewConfig struct, fills any gaps from the environment, and validates
// the result. A missing TMDB API key is rejected here rather than at the
// first failed request.
func (config *CineviewConfig) LoadFromFile(configPath string) error {
	if err := cleanenv.ReadConfig(configPath, config); err != nil {
		return fmt.Errorf("failed to load configuration - %v", err.Error())
	}

	return config.Validate()
}

// LoadFromEnv populates the config purely from environment variables; used
// when no config file is present on disk.
func (config *CineviewConfig) LoadFromEnv() error {
	if err := cleanenv.ReadEnv(config); err != nil {
		return fmt.Errorf("failed to load configuration from environment - %v", err.Error())
	}

	return config.Validate()
}

func (config *CineviewConfig) Validate() error {
	if err := validator.New().Struct(config); err != nil {
		return fmt.Errorf("configuration invalid - %v", err.Error())
	}

	if config.Database.Path == "" {
		path, err := config.defaultDatabasePath()
		if err != nil {
			return err
		}

		config.Database.Path = path
	}

	return nil
}

// getDataDir returns the directory path used for storing the local movie
// cache. It will first look in the config for a value, but if none is found a
// default under the user's home directory is derived.
func (config *CineviewConfig) getDataDir() (string, error) {
	if config.DataDirPath != "" {
		return config.DataDirPath, nil
	}

	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("failed to derive user home dir - %v", err.Error())
	}

	return filepath.Join(home, CINEVIEW_USER_DIR_SUFFIX), nil
}

func (config *CineviewConfig) defaultDatabasePath() (string, error) {
	dir, err := config.getDataDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(dir, "cineview.db"), nil
}
