package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/advantch/agentrun/config"
)

func TestLoadAppliesDefaultsWhenUnset(t *testing.T) {
	for _, key := range []string{
		"ANTHROPIC_MODEL", "OPENAI_MODEL", "MONGO_URI", "MONGO_DATABASE",
		"REDIS_URL", "S3_REGION", "TOOL_HTTP_TIMEOUT", "DEFAULT_MAX_STEPS",
	} {
		t.Setenv(key, "")
	}

	s := config.Load()
	require.Equal(t, "claude-sonnet-4-5", s.AnthropicModel)
	require.Equal(t, "gpt-4o", s.OpenAIModel)
	require.Equal(t, "mongodb://localhost:27017", s.MongoURI)
	require.Equal(t, "agentrun", s.MongoDatabase)
	require.Equal(t, "localhost:6379", s.RedisURL)
	require.Equal(t, "us-east-1", s.S3Region)
	require.Equal(t, 30*time.Second, s.ToolHTTPTimeout)
	require.Equal(t, 20, s.DefaultMaxSteps)
}

func TestLoadReadsOverridesFromEnvironment(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	t.Setenv("OPENAI_ASSISTANT_ID", "asst_123")
	t.Setenv("TOOL_HTTP_TIMEOUT", "5s")
	t.Setenv("DEFAULT_MAX_STEPS", "7")

	s := config.Load()
	require.Equal(t, "sk-ant-test", s.AnthropicAPIKey)
	require.Equal(t, "asst_123", s.OpenAIAssistantID)
	require.Equal(t, 5*time.Second, s.ToolHTTPTimeout)
	require.Equal(t, 7, s.DefaultMaxSteps)
}

func TestLoadIgnoresMalformedDurationAndInt(t *testing.T) {
	t.Setenv("TOOL_HTTP_TIMEOUT", "not-a-duration")
	t.Setenv("DEFAULT_MAX_STEPS", "not-an-int")

	s := config.Load()
	require.Equal(t, 30*time.Second, s.ToolHTTPTimeout)
	require.Equal(t, 20, s.DefaultMaxSteps)
}
