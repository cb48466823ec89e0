// Package config loads a typed settings object from the process
// environment, optionally layering in a local .env file during
// development.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Settings bundles the environment-sourced configuration the orchestrator
// and its store/model adapters need to start.
type Settings struct {
	// AnthropicAPIKey authenticates the local-flavor Anthropic model client.
	AnthropicAPIKey string
	// AnthropicModel is the default model id for the Anthropic client.
	AnthropicModel string

	// OpenAIAPIKey authenticates both the Chat Completions client and the
	// Assistants-API Runner used by the hosted flavor.
	OpenAIAPIKey string
	// OpenAIModel is the default model id for the Chat Completions client.
	OpenAIModel string
	// OpenAIAssistantID identifies the hosted assistant the Assistants-API
	// Runner drives.
	OpenAIAssistantID string

	// MongoURI is the connection string for the document stores (Thread,
	// Message, Run, Step, Agent records).
	MongoURI string
	// MongoDatabase selects the database within MongoURI.
	MongoDatabase string

	// RedisURL is the connection string for the Dispatcher's pub/sub
	// channel and the Connection Manager's presence registry.
	RedisURL string
	// RedisPassword is optional Redis AUTH credential.
	RedisPassword string

	// PostgresDSN is the connection string for the blob-backed store
	// (large tool outputs, attachments).
	PostgresDSN string

	// S3Bucket, S3Region, S3Endpoint describe an S3-compatible object
	// store. No BlobStorage in this module is backed by S3 (the shipped
	// one is store/pgblob's local-filesystem LocalBlobStorage), so nothing
	// here reads these fields.
	S3Bucket   string
	S3Region   string
	S3Endpoint string

	// ToolHTTPTimeout is read from TOOL_HTTP_TIMEOUT. No package in this
	// module consumes it; the Tool Runner applies no timeout of its own.
	ToolHTTPTimeout time.Duration

	// DefaultMaxSteps is read from DEFAULT_MAX_STEPS. No package in this
	// module consumes it; an AgentConfig with MaxSteps unset falls back to
	// core.DefaultMaxSteps instead.
	DefaultMaxSteps int
}

// Load reads Settings from the process environment. If a .env file exists
// in the working directory it is loaded first (without overriding
// variables already set in the environment), matching the development
// workflow of loading secrets from a local file that's never committed.
func Load() Settings {
	_ = godotenv.Load()

	return Settings{
		AnthropicAPIKey:   os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:    envOr("ANTHROPIC_MODEL", "claude-sonnet-4-5"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:       envOr("OPENAI_MODEL", "gpt-4o"),
		OpenAIAssistantID: os.Getenv("OPENAI_ASSISTANT_ID"),
		MongoURI:          envOr("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:     envOr("MONGO_DATABASE", "agentrun"),
		RedisURL:          envOr("REDIS_URL", "localhost:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		PostgresDSN:       os.Getenv("POSTGRES_DSN"),
		S3Bucket:          os.Getenv("S3_BUCKET"),
		S3Region:          envOr("S3_REGION", "us-east-1"),
		S3Endpoint:        os.Getenv("S3_ENDPOINT"),
		ToolHTTPTimeout:   envDurationOr("TOOL_HTTP_TIMEOUT", 30*time.Second),
		DefaultMaxSteps:   envIntOr("DEFAULT_MAX_STEPS", 20),
	}
}

func envOr(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envIntOr(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envDurationOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
