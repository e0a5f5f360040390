package main

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/whiskeygoggles/goggles/internal/assets"
	"github.com/whiskeygoggles/goggles/internal/config"
	"github.com/whiskeygoggles/goggles/internal/logging"
	"github.com/whiskeygoggles/goggles/internal/model"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	// newRuntime builds the inference runtime; tests swap in a fake.
	newRuntime func(cfg *config.Config) model.Runtime
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
		newRuntime:   defaultRuntime,
	}
}

var defaultRuntime = ortRuntime

func ortRuntime(cfg *config.Config) model.Runtime {
	return model.NewORTRuntime(model.ORTOptions{
		LibraryPath:    cfg.Runtime.LibraryPath,
		IO:             model.IONames{Input: cfg.Runtime.InputName, Output: cfg.Runtime.OutputName},
		IntraOpThreads: cfg.Runtime.IntraOpThreads,
	})
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.logLevelFlag != nil && strings.TrimSpace(*c.logLevelFlag) != "" {
			cfg.Logging.Level = strings.TrimSpace(*c.logLevelFlag)
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// logger writes to the command's stderr so tables on stdout stay clean.
func (c *commandContext) logger(cmd *cobra.Command) (zerolog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return zerolog.Nop(), err
	}
	return logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})
}

// withCache opens the configured asset cache for the duration of fn.
func (c *commandContext) withCache(cmd *cobra.Command, fn func(*config.Config, *assets.Cache, zerolog.Logger) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := c.logger(cmd)
	if err != nil {
		return err
	}
	cache, err := assets.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer cache.Close()
	return fn(cfg, cache, logger)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
