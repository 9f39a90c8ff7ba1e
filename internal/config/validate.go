package config

import (
	"fmt"
	"net/url"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate reports every invalid field. An empty API key is not an error: the
// server still extracts and normalizes uploads without a generation backend.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	if c.MaxWords < 1 {
		errs = append(errs, ValidationError{Field: "max_words", Message: "max_words must be positive"})
	}
	if c.MaxUploadBytes < 1 {
		errs = append(errs, ValidationError{Field: "max_upload_bytes", Message: "max_upload_bytes must be positive"})
	}

	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderOllama:
	default:
		errs = append(errs, ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("unsupported provider %q (want %s or %s)", c.LLM.Provider, ProviderOpenAI, ProviderOllama),
		})
	}
	if c.LLM.BaseURL != "" {
		if u, err := url.Parse(c.LLM.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{Field: "llm.base_url", Message: "invalid base URL"})
		}
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, ValidationError{Field: "llm.temperature", Message: "temperature must be between 0 and 2"})
	}
	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 16384 {
		errs = append(errs, ValidationError{Field: "llm.max_tokens", Message: "max_tokens must be between 1 and 16384"})
	}
	if c.LLM.TimeoutSeconds < 1 {
		errs = append(errs, ValidationError{Field: "llm.timeout_seconds", Message: "timeout_seconds must be positive"})
	}
	if c.LLM.RequestsPerMinute < 1 {
		errs = append(errs, ValidationError{Field: "llm.requests_per_minute", Message: "requests_per_minute must be positive"})
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{Field: "log.level", Message: fmt.Sprintf("unknown level %q", c.Log.Level)})
	}
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		errs = append(errs, ValidationError{Field: "log.format", Message: fmt.Sprintf("unknown format %q", c.Log.Format)})
	}

	return errs
}
