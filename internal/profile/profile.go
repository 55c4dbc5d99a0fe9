// Package profile holds the runtime configuration of the tastecore server.
package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start the recommendation core.
type Profile struct {
	// Embedding provider configuration (OpenAI-compatible protocol).
	// All providers (openai, siliconflow, ollama) use the same config.
	EmbeddingProvider   string
	EmbeddingModel      string
	EmbeddingAPIKey     string
	EmbeddingBaseURL    string
	EmbeddingDimensions int
	EmbeddingTimeout    int // seconds per provider call
	EmbeddingBatchSize  int // max texts per provider call
	EmbeddingMinSpacing int // milliseconds between provider calls

	// Enrichment pipeline.
	EnrichWorkers    int
	EnrichQueueDepth int
	EnrichMaxRetries int

	// ANN index tunables.
	ANNMaxLinks       int // HNSW M
	ANNEfConstruction int
	ANNEfSearch       int

	// Connection pool bounds (adaptive sizing stays between these).
	DBPoolFloor   int
	DBPoolCeiling int

	Mode    string
	Addr    string
	Port    int
	Data    string
	Driver  string
	DSN     string
	Version string
}

// Provider default base URLs and models, applied when not explicitly set.
var embeddingProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "text-embedding-3-small",
	},
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "BAAI/bge-m3",
	},
	"ollama": {
		BaseURL: "http://localhost:11434/v1",
		Model:   "nomic-embed-text",
	},
}

// ListenAddr is the ops server bind address.
func (p *Profile) ListenAddr() string {
	return fmt.Sprintf("%s:%d", p.Addr, p.Port)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsEnrichmentEnabled reports whether an embedding provider is configured.
// Without one the core serves degraded-mode recommendations only.
func (p *Profile) IsEnrichmentEnabled() bool {
	return p.EmbeddingAPIKey != "" || p.EmbeddingProvider == "ollama"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.EmbeddingProvider = getEnvOrDefault("TASTECORE_EMBEDDING_PROVIDER", "siliconflow")
	p.EmbeddingModel = getEnvOrDefault("TASTECORE_EMBEDDING_MODEL", "")
	p.EmbeddingAPIKey = getEnvOrDefault("TASTECORE_EMBEDDING_API_KEY", "")
	p.EmbeddingBaseURL = getEnvOrDefault("TASTECORE_EMBEDDING_BASE_URL", "")
	p.EmbeddingDimensions = getEnvOrDefaultInt("TASTECORE_EMBEDDING_DIMENSIONS", 1024)
	p.EmbeddingTimeout = getEnvOrDefaultInt("TASTECORE_EMBEDDING_TIMEOUT_SECONDS", 30)
	p.EmbeddingBatchSize = getEnvOrDefaultInt("TASTECORE_EMBEDDING_BATCH_SIZE", 32)
	p.EmbeddingMinSpacing = getEnvOrDefaultInt("TASTECORE_EMBEDDING_MIN_SPACING_MS", 200)

	if _, ok := embeddingProviderDefaults[p.EmbeddingProvider]; !ok {
		slog.Warn("unknown embedding provider, using default: siliconflow", "provider", p.EmbeddingProvider)
		p.EmbeddingProvider = "siliconflow"
	}
	if defaults, ok := embeddingProviderDefaults[p.EmbeddingProvider]; ok {
		if p.EmbeddingBaseURL == "" {
			p.EmbeddingBaseURL = defaults.BaseURL
		}
		if p.EmbeddingModel == "" {
			p.EmbeddingModel = defaults.Model
		}
	}

	p.EnrichWorkers = getEnvOrDefaultInt("TASTECORE_ENRICH_WORKERS", 3)
	p.EnrichQueueDepth = getEnvOrDefaultInt("TASTECORE_ENRICH_QUEUE_DEPTH", 1024)
	p.EnrichMaxRetries = getEnvOrDefaultInt("TASTECORE_ENRICH_MAX_RETRIES", 5)

	p.ANNMaxLinks = getEnvOrDefaultInt("TASTECORE_ANN_MAX_LINKS", 16)
	p.ANNEfConstruction = getEnvOrDefaultInt("TASTECORE_ANN_EF_CONSTRUCTION", 200)
	p.ANNEfSearch = getEnvOrDefaultInt("TASTECORE_ANN_EF_SEARCH", 100)

	p.DBPoolFloor = getEnvOrDefaultInt("TASTECORE_DB_POOL_FLOOR", 2)
	p.DBPoolCeiling = getEnvOrDefaultInt("TASTECORE_DB_POOL_CEILING", 16)
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

// Validate normalizes the profile and fails on unusable configuration.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Driver != "postgres" && p.Driver != "sqlite" {
		return errors.Errorf("unsupported driver %q (postgres, sqlite)", p.Driver)
	}

	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("dsn is required for the postgres driver")
	}

	if p.Driver == "sqlite" {
		if p.Data == "" {
			p.Data = "."
		}
		dataDir, err := checkDataDir(p.Data)
		if err != nil {
			slog.Error("failed to check data dir", "data", p.Data, "error", err)
			return err
		}
		p.Data = dataDir
		if p.DSN == "" {
			p.DSN = filepath.Join(dataDir, fmt.Sprintf("tastecore_%s.db", p.Mode)) + "?_loc=auto"
		}
	}

	if p.DBPoolFloor <= 0 {
		p.DBPoolFloor = 2
	}
	if p.DBPoolCeiling < p.DBPoolFloor {
		p.DBPoolCeiling = p.DBPoolFloor
	}
	if p.EmbeddingDimensions <= 0 {
		return errors.Errorf("invalid embedding dimensions: %d", p.EmbeddingDimensions)
	}
	return nil
}
