package types

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ServerAddr string
	Production bool

	DataDir      string
	IndexBackend string
	PostgresDSN  string
	HotReload    bool

	SessionBackend string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	SessionTTL     time.Duration

	LLM     LLMConfig
	Persona Persona

	RateLimit       float64
	RateBurst       int
	LogPromptTokens bool
}

type LLMConfig struct {
	Provider       string
	APIKey         string
	Model          string
	EmbedModel     string
	Url            string
	Timeout        time.Duration
	RequestsPerSec float64
}

// Persona is who the assistant speaks for.
type Persona struct {
	AssistantName string
	OwnerName     string
	ContactEmail  string
	SiteBaseURL   string
}

// Data file names inside DataDir.
const (
	SiteFactsMarkdown = "site_facts.md"
	SiteFactsRecords  = "site_facts.json"
	ProfileDump       = "linkedin_profile.json"
	EmbeddingIndex    = "kb_embeddings.json"
	ResumePDF         = "Resume.pdf"
)

func (c Config) DataPath(name string) string {
	return filepath.Join(c.DataDir, name)
}

// ConfigFromEnv reads the configuration from the environment. Call after
// godotenv.Load so .env values are visible.
func ConfigFromEnv() Config {
	pgPort := envInt("PG_PORT", 5432)
	return Config{
		ServerAddr: envString("SERVER_ADDR", ":3000"),
		Production: strings.EqualFold(os.Getenv("APP_ENV"), "production"),

		DataDir:      envString("KLAUS_DATA_DIR", filepath.Join("data")),
		IndexBackend: envString("KLAUS_INDEX_BACKEND", "file"),
		PostgresDSN: fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			os.Getenv("PG_HOST"), pgPort, os.Getenv("PG_USER"), os.Getenv("PG_PASS"), os.Getenv("PG_DB_NAME")),
		HotReload: envBool("KLAUS_KB_HOT_RELOAD", false),

		SessionBackend: envString("KLAUS_SESSION_BACKEND", "memory"),
		RedisAddr:      envString("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        envInt("REDIS_DB", 0),
		SessionTTL:     envDuration("KLAUS_SESSION_TTL", 24*time.Hour),

		LLM: LLMConfig{
			Provider:       envString("KLAUS_PROVIDER", "gemini"),
			APIKey:         os.Getenv("GEMINI_API_KEY"),
			Model:          envString("GEMINI_MODEL", "gemini-2.0-flash"),
			EmbedModel:     envString("GEMINI_EMBED_MODEL", "text-embedding-004"),
			Url:            envString("OLLAMA_URL", "http://localhost:11434"),
			Timeout:        envDuration("KLAUS_PROVIDER_TIMEOUT", 20*time.Second),
			RequestsPerSec: envFloat("KLAUS_PROVIDER_RPS", 5),
		},
		Persona: Persona{
			AssistantName: envString("KLAUS_ASSISTANT_NAME", "Klaus"),
			OwnerName:     envString("KLAUS_OWNER_NAME", "the site owner"),
			ContactEmail:  os.Getenv("MAIL_TO"),
			SiteBaseURL:   strings.TrimRight(os.Getenv("SITE_BASE_URL"), "/"),
		},

		RateLimit:       envFloat("KLAUS_RATE_LIMIT", 2),
		RateBurst:       envInt("KLAUS_RATE_BURST", 10),
		LogPromptTokens: envBool("KLAUS_LOG_PROMPT_TOKENS", false),
	}
}

// WithOllama fills the Ollama specific model names when the local provider
// is selected.
func (c LLMConfig) WithOllama() LLMConfig {
	c.Model = envString("OLLAMA_MODEL", "llama3.1")
	c.EmbedModel = envString("OLLAMA_EMBEDDING_MODEL", "nomic-embed-text")
	return c
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func envFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func envDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
