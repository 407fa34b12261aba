// Package config resolves where the knowledge store lives and how the
// embedding provider is selected. Resolution is environment-first so every
// entry point (server, CLI, merge) lands on the same file.
package config

import (
	"os"
	"path/filepath"
)

// EnvDBPath overrides the store location for every core entry point.
const EnvDBPath = "MEGAMEMORY_DB_PATH"

// Default on-disk layout, relative to the working directory.
const (
	DataDirName = ".megamemory"
	DBFileName  = "knowledge.db"
)

// Embedding provider selection.
const (
	EnvEmbeddingProvider = "MEGAMEMORY_EMBEDDING_PROVIDER"
	EnvOllamaURL         = "MEGAMEMORY_OLLAMA_URL"
	EnvEmbeddingModel    = "MEGAMEMORY_EMBEDDING_MODEL"
)

// DBPath returns the store file for the current project: the env override
// when set, otherwise .megamemory/knowledge.db under the working directory.
func DBPath() string {
	if p := os.Getenv(EnvDBPath); p != "" {
		return p
	}
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return filepath.Join(wd, DataDirName, DBFileName)
}

// Embedding holds provider settings.
type Embedding struct {
	Provider string // "local" (default) or "ollama"
	URL      string // ollama base URL
	Model    string // ollama model name
}

// EmbeddingFromEnv reads provider settings, falling back to the offline
// local model so normal operation never touches the network.
func EmbeddingFromEnv() Embedding {
	e := Embedding{
		Provider: os.Getenv(EnvEmbeddingProvider),
		URL:      os.Getenv(EnvOllamaURL),
		Model:    os.Getenv(EnvEmbeddingModel),
	}
	if e.Provider == "" {
		e.Provider = "local"
	}
	if e.URL == "" {
		e.URL = "http://localhost:11434"
	}
	if e.Model == "" {
		e.Model = "nomic-embed-text"
	}
	return e
}
