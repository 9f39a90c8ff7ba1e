package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"studycards/internal/config"
	"studycards/internal/extract"
	"studycards/internal/logging"
	"studycards/internal/services"
	"studycards/internal/textnorm"
)

type commandContext struct {
	configFlag *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *zap.Logger

	newBackend func(config.LLMConfig) (services.ChatBackend, error)
}

func newCommandContext(configFlag *string, jsonFlag *bool, newBackend func(config.LLMConfig) (services.ChatBackend, error)) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		jsonFlag:   jsonFlag,
		newBackend: newBackend,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if problems := cfg.Validate(); len(problems) > 0 {
			c.configErr = fmt.Errorf("invalid configuration: %w", problems[0])
			return
		}
		c.config = &cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

// loggerValue logs warnings and above to stderr so stdout stays clean for
// command output.
func (c *commandContext) loggerValue() *zap.Logger {
	c.loggerOnce.Do(func() {
		logger, err := logging.New(logging.Options{Level: "warn", Format: "console"})
		if err != nil {
			logger = zap.NewNop()
		}
		c.logger = logger
	})
	return c.logger
}

// readNormalized extracts the text of path and runs it through the
// normalizer with the configured word budget.
func (c *commandContext) readNormalized(path string) (string, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	result, err := extract.New().Extract(filepath.Base(path), f)
	if err != nil {
		return "", err
	}
	text := textnorm.Normalize(result.Text, cfg.MaxWords)
	if text == "" {
		return "", fmt.Errorf("%s: %w", path, services.ErrNoText)
	}
	return text, nil
}

func (c *commandContext) generationService() (*services.GenerationService, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	backend, err := c.newBackend(cfg.LLM)
	if err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, fmt.Errorf("%w: set OPENAI_API_KEY or LLM_PROVIDER=ollama", services.ErrAIUnavailable)
	}
	return services.NewGenerationService(backend, services.GenerationOptions{
		Timeout:           cfg.LLM.Timeout(),
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
	}, c.loggerValue()), nil
}
