package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	apperrors "loom/pkg/errors"
)

// Similarity backend selection values
const (
	SimilarityLocal = "local"
	SimilarityNeo4j = "neo4j"
	SimilarityOff   = "off"
)

// Config holds all application configuration
type Config struct {
	// App
	Port string
	Env  string

	// Graph store
	GraphRoot string

	// Embeddings
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	EmbeddingModel string

	// Similarity index backend: local (bbolt), neo4j, or off
	SimilarityBackend string
	EmbedConcurrency  int

	// Neo4j (only used when SimilarityBackend is "neo4j")
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		Env:               getEnv("ENV", "development"),
		GraphRoot:         getEnv("GRAPH_ROOT", "graph"),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", ""),
		EmbeddingModel:    getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		SimilarityBackend: getEnv("SIMILARITY_BACKEND", SimilarityLocal),
		EmbedConcurrency:  getEnvInt("EMBED_CONCURRENCY", 4),
		Neo4jURI:          getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:         getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:     getEnv("NEO4J_PASSWORD", "password"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	if c.GraphRoot == "" {
		return apperrors.NewConfigMissingRequired("GRAPH_ROOT")
	}
	switch c.SimilarityBackend {
	case SimilarityLocal, SimilarityNeo4j, SimilarityOff:
	default:
		return fmt.Errorf("SIMILARITY_BACKEND must be %q, %q or %q, got %q",
			SimilarityLocal, SimilarityNeo4j, SimilarityOff, c.SimilarityBackend)
	}
	if c.SimilarityBackend != SimilarityOff && c.OpenAIAPIKey == "" {
		return apperrors.NewConfigMissingRequired("OPENAI_API_KEY")
	}
	if c.SimilarityBackend == SimilarityNeo4j {
		if c.Neo4jURI == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_URI")
		}
		if c.Neo4jUser == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_USER")
		}
		if c.Neo4jPassword == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_PASSWORD")
		}
	}
	if c.EmbedConcurrency < 1 {
		return fmt.Errorf("EMBED_CONCURRENCY must be at least 1, got %d", c.EmbedConcurrency)
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}
