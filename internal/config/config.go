// Package config loads capkit configuration files.
package config

import (
	"github.com/xuacker/capkit/internal/extract"
	"github.com/xuacker/capkit/internal/log"
)

type Config struct {
	Input   string            `mapstructure:"input"`
	Logger  *log.LoggerConfig `mapstructure:"logger"`
	Extract extract.Options   `mapstructure:"extract"`
}
