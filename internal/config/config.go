package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nheososweet/60days-rag/internal/models"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	EmbedLLM LLMConfig      `yaml:"embed_llm"`
	ChatLLM  LLMConfig      `yaml:"chat_llm"`
	RAG      RAGConfig      `yaml:"rag"`
	Store    StoreConfig    `yaml:"store"`
	Database DatabaseConfig `yaml:"database"`
}

type ServerConfig struct {
	Addr      string `yaml:"addr"`
	Mode      string `yaml:"mode"`
	UploadDir string `yaml:"upload_dir"`
	Debug     bool   `yaml:"debug"`
}

type LLMConfig struct {
	Provider       string `yaml:"provider"` // ollama or openai
	BaseURL        string `yaml:"base_url"`
	Key            string `yaml:"key"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type RAGConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
	BatchSize    int `yaml:"batch_size"`
	VectorSize   int `yaml:"vector_size"`
	TopK         int `yaml:"top_k"`
	// BatchesPerMinute bounds how fast embedding batches are sent to the
	// provider. Zero disables pacing.
	BatchesPerMinute float64 `yaml:"batches_per_minute"`
}

type StoreConfig struct {
	Backend    string `yaml:"backend"` // chromem or postgres
	Path       string `yaml:"path"`
	Collection string `yaml:"collection"`
}

type DatabaseConfig struct {
	URL   string `yaml:"url"`
	Key   string `yaml:"key"`
	Debug bool   `yaml:"debug"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
	if c.Server.UploadDir == "" {
		c.Server.UploadDir = "./uploads"
	}
	if c.EmbedLLM.Provider == "" {
		c.EmbedLLM.Provider = "ollama"
	}
	if c.EmbedLLM.TimeoutSeconds == 0 {
		c.EmbedLLM.TimeoutSeconds = 30
	}
	if c.ChatLLM.Provider == "" {
		c.ChatLLM.Provider = "openai"
	}
	if c.ChatLLM.TimeoutSeconds == 0 {
		c.ChatLLM.TimeoutSeconds = 120
	}
	if c.RAG.ChunkSize == 0 {
		c.RAG.ChunkSize = models.DefaultChunkSize
	}
	if c.RAG.ChunkOverlap == 0 {
		c.RAG.ChunkOverlap = models.DefaultChunkOverlap
	}
	if c.RAG.BatchSize == 0 {
		c.RAG.BatchSize = models.DefaultBatchSize
	}
	if c.RAG.VectorSize == 0 {
		c.RAG.VectorSize = models.DefaultVectorSize
	}
	if c.RAG.TopK == 0 {
		c.RAG.TopK = models.DefaultTopK
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "chromem"
	}
	if c.Store.Path == "" {
		c.Store.Path = "./chromemdb"
	}
	if c.Store.Collection == "" {
		c.Store.Collection = "documents"
	}
}
