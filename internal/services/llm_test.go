package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studycards/internal/config"
)

func TestNewChatBackend(t *testing.T) {
	backend, err := NewChatBackend(config.LLMConfig{Provider: config.ProviderOpenAI})
	require.NoError(t, err)
	assert.Nil(t, backend)

	backend, err = NewChatBackend(config.LLMConfig{Provider: config.ProviderOpenAI, APIKey: "sk-test", Model: "gpt-3.5-turbo"})
	require.NoError(t, err)
	assert.IsType(t, &openAIBackend{}, backend)

	backend, err = NewChatBackend(config.LLMConfig{Provider: config.ProviderOllama, Model: "mistral", BaseURL: "http://localhost:11434"})
	require.NoError(t, err)
	assert.IsType(t, &ollamaBackend{}, backend)

	_, err = NewChatBackend(config.LLMConfig{Provider: "bard"})
	assert.Error(t, err)
}
