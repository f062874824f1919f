// Package config loads the process-wide configuration record from the
// environment. There is no mutable package-level config singleton: callers
// load once at startup and pass the resulting record by value.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DistanceMetric is the similarity metric declared by the embedder and
// wired into the vector store at construction.
type DistanceMetric string

const (
	DistanceL2     DistanceMetric = "L2"
	DistanceCosine DistanceMetric = "cosine"
	DistanceDot    DistanceMetric = "dot"
)

// ObjectStoreConfig configures the S3-compatible source adapter backend.
type ObjectStoreConfig struct {
	Endpoint    string
	Region      string
	AccessKey   string
	SecretKey   string
	Bucket      string
	Prefix      string
	UsePathSSL  bool
	UsePathAddr bool
}

// PostgresConfig configures the catalog and parsed-artifact store.
type PostgresConfig struct {
	DSN string
}

// QdrantConfig configures the chunk-vector store.
type QdrantConfig struct {
	Addr       string
	APIKey     string
	Collection string
}

// OpenAIConfig configures both the embedder and generator clients, since
// both ride the same provider client.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	EmbeddingModel string
	ChatModel      string
}

// ObsConfig configures the OpenTelemetry exporters.
type ObsConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	LogLevel       string
	LogPath        string
}

// Config is the single immutable record passed to the composition root.
// Every externally configurable setting has a field here; there is no
// hidden global state.
type Config struct {
	IndexerVersion           int
	MaxQueueSize             int
	ReadConsistencyInterval  time.Duration
	EmbedderMaxChars         int
	ChunkerMaxChars          int
	KeepAliveInterval        time.Duration
	DistanceMetric           DistanceMetric
	EmbeddingDimension       int
	HTTPAddr                 string

	ObjectStore ObjectStoreConfig
	Postgres    PostgresConfig
	Qdrant      QdrantConfig
	OpenAI      OpenAIConfig
	Obs         ObsConfig
}

// firstNonEmpty returns the first non-empty string among candidates.
func firstNonEmpty(candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvFloatSeconds(key string, def float64) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(def * float64(time.Second))
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return time.Duration(def * float64(time.Second))
	}
	return time.Duration(f * float64(time.Second))
}

func getenvBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes"
}

// Load reads configuration from the environment, overlaying a ".env" file
// if present. Unset values fall back to sane defaults for local
// development.
func Load() (Config, error) {
	_ = godotenv.Overload()

	metric := DistanceMetric(strings.ToUpper(os.Getenv("DISTANCE_METRIC")))
	switch metric {
	case DistanceL2, "COSINE", "DOT":
		if metric == "COSINE" {
			metric = DistanceCosine
		} else if metric == "DOT" {
			metric = DistanceDot
		}
	default:
		metric = DistanceCosine
	}

	cfg := Config{
		IndexerVersion:          getenvInt("INDEXER_VERSION", 1),
		MaxQueueSize:            getenvInt("MAX_QUEUE_SIZE", 10_000),
		ReadConsistencyInterval: getenvFloatSeconds("READ_CONSISTENCY_INTERVAL_S", 1.0),
		EmbedderMaxChars:        getenvInt("EMBEDDER_MAX_CHARS", 8_000),
		ChunkerMaxChars:         getenvInt("CHUNKER_MAX_CHARS", 1_024),
		KeepAliveInterval:       getenvFloatSeconds("KEEP_ALIVE_INTERVAL_S", 20.0),
		DistanceMetric:          metric,
		EmbeddingDimension:      getenvInt("EMBEDDING_DIMENSION", 1024),
		HTTPAddr:                firstNonEmpty(os.Getenv("HTTP_ADDR"), ":8080"),

		ObjectStore: ObjectStoreConfig{
			Endpoint:    os.Getenv("OBJECT_STORE_ENDPOINT"),
			Region:      firstNonEmpty(os.Getenv("OBJECT_STORE_REGION"), "us-east-1"),
			AccessKey:   os.Getenv("OBJECT_STORE_ACCESS_KEY"),
			SecretKey:   os.Getenv("OBJECT_STORE_SECRET_KEY"),
			Bucket:      firstNonEmpty(os.Getenv("OBJECT_STORE_BUCKET"), "seemantic"),
			Prefix:      os.Getenv("OBJECT_STORE_PREFIX"),
			UsePathAddr: getenvBool("OBJECT_STORE_PATH_STYLE", true),
			UsePathSSL:  getenvBool("OBJECT_STORE_TLS", false),
		},
		Postgres: PostgresConfig{
			DSN: firstNonEmpty(os.Getenv("POSTGRES_DSN"), "postgres://localhost:5432/seemantic?sslmode=disable"),
		},
		Qdrant: QdrantConfig{
			Addr:       firstNonEmpty(os.Getenv("QDRANT_ADDR"), "localhost:6334"),
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			Collection: firstNonEmpty(os.Getenv("QDRANT_COLLECTION_PREFIX"), "chunk"),
		},
		OpenAI: OpenAIConfig{
			APIKey:         os.Getenv("OPENAI_API_KEY"),
			BaseURL:        firstNonEmpty(os.Getenv("OPENAI_BASE_URL"), os.Getenv("OPENAI_API_BASE_URL")),
			EmbeddingModel: firstNonEmpty(os.Getenv("OPENAI_EMBEDDING_MODEL"), "text-embedding-3-small"),
			ChatModel:      firstNonEmpty(os.Getenv("OPENAI_CHAT_MODEL"), "gpt-4o-mini"),
		},
		Obs: ObsConfig{
			ServiceName:    firstNonEmpty(os.Getenv("OTEL_SERVICE_NAME"), "seemantic"),
			ServiceVersion: os.Getenv("SERVICE_VERSION"),
			Environment:    firstNonEmpty(os.Getenv("ENVIRONMENT"), "development"),
			OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			LogLevel:       firstNonEmpty(os.Getenv("LOG_LEVEL"), "info"),
			LogPath:        os.Getenv("LOG_PATH"),
		},
	}

	if cfg.OpenAI.APIKey == "" {
		return cfg, fmt.Errorf("config: OPENAI_API_KEY is required")
	}
	return cfg, nil
}
