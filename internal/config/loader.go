// Package config loads the orchestrator's YAML configuration, grounded on
// the teacher's internal/config loader: env-var expansion, $include
// directives with cycle detection, and tolerant JSON5 parsing for
// hand-edited .json/.json5 config files.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

const includeKey = "$include"

// RouterConfig holds the three-tier router's thresholds (§4.4).
type RouterConfig struct {
	PrecheckConfidenceMin   float64 `yaml:"precheck_confidence_min"`
	ClassifierConfidenceMin float64 `yaml:"classifier_confidence_min"`
	MaxReplans              int     `yaml:"max_replans"`
	MaxSearchIterations     int     `yaml:"max_search_iterations"`

	// PatternsDir, if set, is a directory of *.json CommandPattern files
	// loaded alongside tool-server patterns for the tier-0 precheck.
	PatternsDir string `yaml:"patterns_dir"`
	// WatchPatterns enables a filesystem watch on PatternsDir that
	// hot-reloads the precheck's pattern registry on change.
	WatchPatterns bool `yaml:"watch_patterns"`
}

// MemoryConfig holds memory-service budgets (§4.1).
type MemoryConfig struct {
	DefaultContextTokens   int    `yaml:"default_context_tokens"`
	SummarizeAfterMessages int    `yaml:"summarize_after_messages"`
	SummarizePollCron      string `yaml:"summarize_poll_cron"`
}

// ToolsConfig holds tool execution defaults (§5).
type ToolsConfig struct {
	ShellTimeoutSeconds  int `yaml:"shell_timeout_seconds"`
	FetchTimeoutSeconds  int `yaml:"fetch_timeout_seconds"`
	SearchTimeoutSeconds int `yaml:"search_timeout_seconds"`
	ShellOutputMaxBytes  int `yaml:"shell_output_max_bytes"`
	EventPayloadMaxBytes int `yaml:"event_payload_max_bytes"`
}

// VectorConfig holds RAG/vector-store chunking defaults (§4.5).
type VectorConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
	TopK         int `yaml:"top_k"`
}

// HeartbeatConfig holds node-membership TTL/refresh intervals (§4.8).
type HeartbeatConfig struct {
	TTLSeconds     int    `yaml:"ttl_seconds"`
	RefreshSeconds int    `yaml:"refresh_seconds"`
	RefreshCron    string `yaml:"refresh_cron"`
}

// LogConfig holds logging output settings (§10.1).
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ServerConfig holds the HTTP listener's host/port (§6.1, §6.4).
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// RedisConfig configures the KVStore adapter's Redis connection (§1, §6.5).
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PostgresConfig configures the DocStore adapter's connection string (§1, §6.5).
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// QdrantConfig configures the VectorStore adapter's connection (§1, §6.5).
type QdrantConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	UseTLS bool   `yaml:"use_tls"`
	APIKey string `yaml:"api_key"`
}

// BedrockConfig configures the LanguageModel/Embedder adapter's AWS client.
type BedrockConfig struct {
	Region         string `yaml:"region"`
	EmbeddingModel string `yaml:"embedding_model"`
}

// ProvidersConfig groups the connection settings for every external
// collaborator implementing a ports interface (§9 "capability bundle").
type ProvidersConfig struct {
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Qdrant   QdrantConfig   `yaml:"qdrant"`
	Bedrock  BedrockConfig  `yaml:"bedrock"`
}

// ModelsConfig names which model each router/RAG stage calls. Smaller,
// cheaper models back the classifier/evaluator/confirmer stages; the
// planner and responder use the larger default model (§4.4, §4.5).
type ModelsConfig struct {
	ClassifierModel      string `yaml:"classifier_model"`
	PlannerModel         string `yaml:"planner_model"`
	ResponderModel       string `yaml:"responder_model"`
	SearchEvaluatorModel string `yaml:"search_evaluator_model"`
	TinyConfirmerModel   string `yaml:"tiny_confirmer_model"`
	SummarizerModel      string `yaml:"summarizer_model"`
}

// Config is the orchestrator's fully decoded configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Router    RouterConfig    `yaml:"router"`
	Memory    MemoryConfig    `yaml:"memory"`
	Tools     ToolsConfig     `yaml:"tools"`
	Vector    VectorConfig    `yaml:"vector"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Log       LogConfig       `yaml:"log"`
	Models    ModelsConfig    `yaml:"models"`
	Providers ProvidersConfig `yaml:"providers"`
}

// Default returns the configuration defaults matching the numeric thresholds
// named throughout spec.md.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Router: RouterConfig{
			PrecheckConfidenceMin:   0.8,
			ClassifierConfidenceMin: 0.5,
			MaxReplans:              3,
			MaxSearchIterations:     5,
		},
		Memory: MemoryConfig{
			DefaultContextTokens:   4000,
			SummarizeAfterMessages: 40,
		},
		Tools: ToolsConfig{
			ShellTimeoutSeconds:  30,
			FetchTimeoutSeconds:  12,
			SearchTimeoutSeconds: 8,
			ShellOutputMaxBytes:  4096,
			EventPayloadMaxBytes: 1024,
		},
		Vector: VectorConfig{
			ChunkSize:    2000,
			ChunkOverlap: 200,
			TopK:         5,
		},
		Heartbeat: HeartbeatConfig{
			TTLSeconds:     20,
			RefreshSeconds: 10,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Models: ModelsConfig{
			ClassifierModel:      "claude-haiku-4-5",
			PlannerModel:         "claude-sonnet-4-5",
			ResponderModel:       "claude-sonnet-4-5",
			SearchEvaluatorModel: "claude-haiku-4-5",
			TinyConfirmerModel:   "claude-haiku-4-5",
			SummarizerModel:      "claude-haiku-4-5",
		},
		Providers: ProvidersConfig{
			Redis:    RedisConfig{Addr: "127.0.0.1:6379"},
			Postgres: PostgresConfig{DSN: "postgres://localhost:5432/orchestrator?sslmode=disable"},
			Qdrant:   QdrantConfig{Host: "127.0.0.1", Port: 6334},
			Bedrock:  BedrockConfig{Region: "us-east-1", EmbeddingModel: "amazon.titan-embed-text-v2:0"},
		},
	}
}

// Load reads a YAML (or JSON/JSON5) config file at path, resolving
// $include directives, expanding ${ENV_VAR} references, and merging over
// Default().
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	loader := &includeLoader{visiting: map[string]bool{}}
	raw, err := loader.load(path)
	if err != nil {
		return nil, err
	}
	return decodeOverDefault(raw)
}

// includeLoader walks a config file's $include graph depth-first, tracking
// the current path stack on the loader itself (rather than threading a seen
// map through each recursive call) so a cycle reports the full chain that
// produced it.
type includeLoader struct {
	visiting map[string]bool
	stack    []string
}

func (l *includeLoader) load(path string) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve path %s: %w", path, err)
	}
	if l.visiting[absPath] {
		l.stack = append(l.stack, absPath)
		return nil, fmt.Errorf("config: include cycle: %s", strings.Join(l.stack, " -> "))
	}
	l.visiting[absPath] = true
	l.stack = append(l.stack, absPath)
	defer func() {
		delete(l.visiting, absPath)
		l.stack = l.stack[:len(l.stack)-1]
	}()

	doc, err := readConfigDocument(absPath)
	if err != nil {
		return nil, err
	}

	includePaths, err := popIncludeDirective(doc)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", absPath, err)
	}

	result := map[string]any{}
	baseDir := filepath.Dir(absPath)
	for _, inc := range includePaths {
		inc = strings.TrimSpace(inc)
		if inc == "" {
			continue
		}
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(baseDir, inc)
		}
		included, err := l.load(inc)
		if err != nil {
			return nil, err
		}
		result = overlay(result, included)
	}
	return overlay(result, doc), nil
}

// readConfigDocument reads path, expands ${ENV_VAR} references, and decodes
// it as JSON5 (for .json/.json5 paths) or YAML (everything else).
func readConfigDocument(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	expanded := []byte(os.ExpandEnv(string(data)))

	var doc map[string]any
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".json" || ext == ".json5" {
		err = json5.Unmarshal(expanded, &doc)
	} else {
		err = yaml.NewDecoder(bytes.NewReader(expanded)).Decode(&doc)
	}
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

// popIncludeDirective extracts and removes the $include (or include) key
// from doc, normalizing its value to a path list.
func popIncludeDirective(doc map[string]any) ([]string, error) {
	raw, ok := doc[includeKey]
	if !ok {
		raw, ok = doc["include"]
		if ok {
			delete(doc, "include")
		}
	} else {
		delete(doc, includeKey)
	}
	if !ok || raw == nil {
		return nil, nil
	}

	switch v := raw.(type) {
	case string:
		return []string{v}, nil
	case []any:
		paths := make([]string, len(v))
		for i, entry := range v {
			s, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("$include entries must be strings, got %T at index %d", entry, i)
			}
			paths[i] = s
		}
		return paths, nil
	default:
		return nil, fmt.Errorf("$include must be a string or list of strings, got %T", raw)
	}
}

// overlay returns a new map with every key of patch applied on top of base,
// recursing into nested maps so a patch can override one field of a nested
// section without clobbering its siblings.
func overlay(base, patch map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range patch {
		if patchSection, ok := v.(map[string]any); ok {
			if baseSection, ok := merged[k].(map[string]any); ok {
				merged[k] = overlay(baseSection, patchSection)
				continue
			}
		}
		merged[k] = v
	}
	return merged
}

// decodeOverDefault YAML-round-trips raw (so JSON5-sourced maps decode
// through the same path as YAML-sourced ones) into a copy of Default(),
// leaving every field raw doesn't mention at its default value.
func decodeOverDefault(raw map[string]any) (*Config, error) {
	cfg := Default()
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("config: re-encode merged document: %w", err)
	}
	if err := yaml.Unmarshal(payload, cfg); err != nil {
		return nil, fmt.Errorf("config: decode merged document: %w", err)
	}
	return cfg, nil
}
