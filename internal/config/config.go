// Package config loads and validates Recall configuration.
//
// Configuration comes from a single YAML file (recall.yaml in the memory
// root by default), with RECALL_* environment variables taking precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SyncMode selects how the index manager triggers syncs.
type SyncMode string

const (
	// SyncModeDebounce watches sources and syncs after a quiet window.
	SyncModeDebounce SyncMode = "debounce"
	// SyncModeInterval syncs on a fixed timer with no file watching.
	SyncModeInterval SyncMode = "interval"
	// SyncModeManual syncs only on explicit request.
	SyncModeManual SyncMode = "manual"
)

// Config is the complete Recall configuration.
type Config struct {
	Version int `yaml:"version"`

	// MemoryRoot is the canonical memory directory (daily logs, transcripts).
	MemoryRoot string `yaml:"memory_root"`

	// CuratedFile is the curated long-term memory file.
	CuratedFile string `yaml:"curated_file"`

	// DataDir holds the derived index, manifest, and logs.
	DataDir string `yaml:"data_dir"`

	// ExtraPaths are additional allow-listed readable paths for get.
	ExtraPaths []string `yaml:"extra_paths"`

	Sources    SourcesConfig    `yaml:"sources"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Sync       SyncConfig       `yaml:"sync"`
	Search     SearchConfig     `yaml:"search"`
	Store      StoreConfig      `yaml:"store"`
	Get        GetConfig        `yaml:"get"`

	LogLevel string `yaml:"log_level"`
}

// SourcesConfig toggles which canonical categories feed the index.
type SourcesConfig struct {
	Curated     bool `yaml:"curated"`
	DailyLogs   bool `yaml:"daily_logs"`
	Transcripts bool `yaml:"transcripts"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "ollama", "static", or "none" (lexical-only indexing).
	Provider string `yaml:"provider"`
	// Model is the provider model name (ollama only).
	Model string `yaml:"model"`
	// OllamaHost is the Ollama API endpoint (default http://localhost:11434).
	OllamaHost string `yaml:"ollama_host"`
	// BatchSize is chunks per embedding request.
	BatchSize int `yaml:"batch_size"`
	// CacheSize is the query-embedding LRU capacity (0 disables).
	CacheSize int `yaml:"cache_size"`
}

// SyncConfig configures the sync lifecycle.
type SyncConfig struct {
	Mode SyncMode `yaml:"mode"`
	// Debounce is the quiet window after a file event (debounce mode).
	Debounce time.Duration `yaml:"debounce"`
	// Interval is the fixed sync period (interval mode, and the safety-net
	// timer in debounce mode).
	Interval time.Duration `yaml:"interval"`
}

// SearchConfig configures hybrid ranking.
type SearchConfig struct {
	// LexicalWeight and SemanticWeight must sum to 1.0.
	LexicalWeight  float64 `yaml:"lexical_weight"`
	SemanticWeight float64 `yaml:"semantic_weight"`
	// RRFConstant is the fusion smoothing parameter k (default 60).
	RRFConstant int `yaml:"rrf_constant"`
	// Lexical toggles the lexical index; disabling it with a configured
	// provider gives vector-only mode.
	Lexical bool `yaml:"lexical"`
	// MinScore is the default minimum fused score for results.
	MinScore float64 `yaml:"min_score"`
	// MaxResults is the default result cap.
	MaxResults int `yaml:"max_results"`
	// SnippetMaxBytes bounds every returned snippet.
	SnippetMaxBytes int `yaml:"snippet_max_bytes"`
	// ChunkMaxBytes bounds chunk size at indexing time.
	ChunkMaxBytes int `yaml:"chunk_max_bytes"`
}

// StoreConfig selects the index store backend.
type StoreConfig struct {
	// Backend is "builtin" (bleve + hnsw) or "sqlite" (single-file FTS5).
	// A non-builtin backend falls back to builtin on failure.
	Backend string `yaml:"backend"`
}

// GetConfig bounds the get tool's read window.
type GetConfig struct {
	// DefaultLines is the window when the caller omits lines.
	DefaultLines int `yaml:"default_lines"`
	// MaxLines caps any requested window.
	MaxLines int `yaml:"max_lines"`
	// AllowedExtensions is the markdown-class document allow-list.
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

// NewConfig creates a Config with defaults rooted at the given memory directory.
func NewConfig(memoryRoot string) *Config {
	return &Config{
		Version:     1,
		MemoryRoot:  memoryRoot,
		CuratedFile: filepath.Join(memoryRoot, "MEMORY.md"),
		DataDir:     filepath.Join(memoryRoot, ".recall"),
		Sources: SourcesConfig{
			Curated:     true,
			DailyLogs:   true,
			Transcripts: false,
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "static",
			Model:     "nomic-embed-text",
			BatchSize: 32,
			CacheSize: 512,
		},
		Sync: SyncConfig{
			Mode:     SyncModeDebounce,
			Debounce: 500 * time.Millisecond,
			Interval: 5 * time.Minute,
		},
		Search: SearchConfig{
			LexicalWeight:   0.6,
			SemanticWeight:  0.4,
			RRFConstant:     60,
			Lexical:         true,
			MinScore:        0.05,
			MaxResults:      10,
			SnippetMaxBytes: 700,
			ChunkMaxBytes:   1200,
		},
		Store: StoreConfig{
			Backend: "builtin",
		},
		Get: GetConfig{
			DefaultLines:      80,
			MaxLines:          400,
			AllowedExtensions: []string{".md", ".markdown", ".txt"},
		},
		LogLevel: "info",
	}
}

// Load reads configuration from path, applies environment overrides, and
// validates. A missing file yields defaults for the file's directory.
func Load(path string) (*Config, error) {
	cfg := NewConfig(filepath.Dir(path))

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides config values from RECALL_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("RECALL_MEMORY_ROOT"); v != "" {
		c.MemoryRoot = v
	}
	if v := os.Getenv("RECALL_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("RECALL_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("RECALL_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("RECALL_SYNC_MODE"); v != "" {
		c.Sync.Mode = SyncMode(v)
	}
	if v := os.Getenv("RECALL_LEXICAL_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Search.LexicalWeight = f
			c.Search.SemanticWeight = 1.0 - f
		}
	}
	if v := os.Getenv("RECALL_STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("RECALL_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// applyDefaults fills zero values left by a partial config file.
func (c *Config) applyDefaults() {
	def := NewConfig(c.MemoryRoot)
	if c.CuratedFile == "" {
		c.CuratedFile = def.CuratedFile
	}
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.Embeddings.BatchSize <= 0 {
		c.Embeddings.BatchSize = def.Embeddings.BatchSize
	}
	if c.Sync.Mode == "" {
		c.Sync.Mode = def.Sync.Mode
	}
	if c.Sync.Debounce <= 0 {
		c.Sync.Debounce = def.Sync.Debounce
	}
	if c.Sync.Interval <= 0 {
		c.Sync.Interval = def.Sync.Interval
	}
	if c.Search.RRFConstant <= 0 {
		c.Search.RRFConstant = def.Search.RRFConstant
	}
	if c.Search.MaxResults <= 0 {
		c.Search.MaxResults = def.Search.MaxResults
	}
	if c.Search.SnippetMaxBytes <= 0 {
		c.Search.SnippetMaxBytes = def.Search.SnippetMaxBytes
	}
	if c.Search.ChunkMaxBytes <= 0 {
		c.Search.ChunkMaxBytes = def.Search.ChunkMaxBytes
	}
	if c.Store.Backend == "" {
		c.Store.Backend = def.Store.Backend
	}
	if c.Get.DefaultLines <= 0 {
		c.Get.DefaultLines = def.Get.DefaultLines
	}
	if c.Get.MaxLines <= 0 {
		c.Get.MaxLines = def.Get.MaxLines
	}
	if len(c.Get.AllowedExtensions) == 0 {
		c.Get.AllowedExtensions = def.Get.AllowedExtensions
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.MemoryRoot == "" {
		return fmt.Errorf("memory_root is required")
	}

	switch c.Sync.Mode {
	case SyncModeDebounce, SyncModeInterval, SyncModeManual:
	default:
		return fmt.Errorf("invalid sync mode %q (want debounce, interval, or manual)", c.Sync.Mode)
	}

	switch strings.ToLower(c.Embeddings.Provider) {
	case "ollama", "static", "none", "":
	default:
		return fmt.Errorf("invalid embeddings provider %q (want ollama, static, or none)", c.Embeddings.Provider)
	}

	if !c.Search.Lexical && c.VectorDisabled() {
		return fmt.Errorf("lexical search disabled and no embedding provider configured: at least one of lexical or vector search must be active")
	}

	sum := c.Search.LexicalWeight + c.Search.SemanticWeight
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("search weights must sum to 1.0, got %.3f", sum)
	}
	if c.Search.LexicalWeight < 0 || c.Search.SemanticWeight < 0 {
		return fmt.Errorf("search weights must be non-negative")
	}

	switch c.Store.Backend {
	case "builtin", "sqlite":
	default:
		return fmt.Errorf("invalid store backend %q (want builtin or sqlite)", c.Store.Backend)
	}

	if c.Get.DefaultLines > c.Get.MaxLines {
		return fmt.Errorf("get.default_lines (%d) exceeds get.max_lines (%d)", c.Get.DefaultLines, c.Get.MaxLines)
	}

	return nil
}

// VectorDisabled reports whether indexing runs without an embedding provider.
func (c *Config) VectorDisabled() bool {
	return strings.EqualFold(c.Embeddings.Provider, "none")
}

// Save writes the configuration to path atomically (temp file + rename).
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// DefaultPath returns the config path for a memory root.
func DefaultPath(memoryRoot string) string {
	return filepath.Join(memoryRoot, "recall.yaml")
}
