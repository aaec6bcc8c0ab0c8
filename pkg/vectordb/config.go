package vectordb

import (
	dberrors "github.com/fabstir/vectordb/internal/errors"
)

// Config enumerates the options create(config) accepts (spec §4.9, §6.3).
// Build one with NewConfig, which applies the spec's defaults (encryption
// on, 10000-record chunks, a 150 MB chunk cache) before ConfigOptions
// override them — the same functional-options shape used throughout this
// module, chosen here specifically so EncryptAtRest's true default isn't
// silently lost to Go's bool zero value.
type Config struct {
	blobEndpoint     string
	userSeedMaterial []byte
	sessionID        string

	encryptAtRest  bool
	chunkSize      int
	cacheSizeMb    int
	memoryBudgetMb int
	debug          bool
}

// ConfigOption overrides one Config default.
type ConfigOption func(*Config)

// WithEncryptAtRest overrides the default (true).
func WithEncryptAtRest(enabled bool) ConfigOption {
	return func(c *Config) { c.encryptAtRest = enabled }
}

// WithChunkSize overrides the default (10000).
func WithChunkSize(n int) ConfigOption {
	return func(c *Config) { c.chunkSize = n }
}

// WithCacheSizeMb overrides the default (150).
func WithCacheSizeMb(mb int) ConfigOption {
	return func(c *Config) { c.cacheSizeMb = mb }
}

// WithMemoryBudgetMb sets the optional soft memory budget. The value is
// only validated (it must not be negative); Stats does not report it.
func WithMemoryBudgetMb(mb int) ConfigOption {
	return func(c *Config) { c.memoryBudgetMb = mb }
}

// WithDebug raises the session logger to debug level.
func WithDebug(enabled bool) ConfigOption {
	return func(c *Config) { c.debug = enabled }
}

const (
	defaultChunkSize   = 10000
	defaultCacheSizeMb = 150
)

// NewConfig builds a Config for the three required fields (blobEndpoint,
// userSeedMaterial, sessionId), applying spec defaults before opts run.
func NewConfig(blobEndpoint, sessionID string, userSeedMaterial []byte, opts ...ConfigOption) Config {
	c := Config{
		blobEndpoint:     blobEndpoint,
		userSeedMaterial: userSeedMaterial,
		sessionID:        sessionID,
		encryptAtRest:    true,
		chunkSize:        defaultChunkSize,
		cacheSizeMb:      defaultCacheSizeMb,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// validate checks the required fields, returning ConfigInvalid for the
// first violation found.
func (c Config) validate() error {
	if c.blobEndpoint == "" {
		return dberrors.ConfigInvalid("blobEndpoint", "must not be empty")
	}
	if len(c.userSeedMaterial) == 0 {
		return dberrors.ConfigInvalid("userSeedMaterial", "must not be empty")
	}
	if c.sessionID == "" {
		return dberrors.ConfigInvalid("sessionId", "must not be empty")
	}
	if c.chunkSize <= 0 {
		return dberrors.ConfigInvalid("chunkSize", "must be positive")
	}
	if c.cacheSizeMb <= 0 {
		return dberrors.ConfigInvalid("cacheSizeMb", "must be positive")
	}
	if c.memoryBudgetMb < 0 {
		return dberrors.ConfigInvalid("memoryBudgetMb", "must not be negative")
	}
	return nil
}
