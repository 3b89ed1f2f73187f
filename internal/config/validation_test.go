package config_test

import (
	"errors"
	"testing"

	"logrca/internal/config"

	"github.com/stretchr/testify/assert"
)

func validConfig() config.Config {
	return config.Config{
		LogStore:                "postgres",
		VectorBackend:           "local",
		VectorDir:               "./data",
		VectorCollection:        "log_context",
		HostedEmbeddingProvider: "openai",
		ContextWindow:           20,
		RCATopK:                 5,
		RCAPerQuery:             2,
		LocalEmbeddingDim:       384,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr bool
		errIs   error
	}{
		{
			name:    "Valid Config",
			mutate:  func(c *config.Config) {},
			wantErr: false,
		},
		{
			name:    "Missing Collection",
			mutate:  func(c *config.Config) { c.VectorCollection = "" },
			wantErr: true,
			errIs:   config.ErrMissingRequired,
		},
		{
			name:    "Missing Vector Dir",
			mutate:  func(c *config.Config) { c.VectorDir = "" },
			wantErr: true,
			errIs:   config.ErrMissingRequired,
		},
		{
			name: "Weaviate Without Host",
			mutate: func(c *config.Config) {
				c.VectorBackend = "weaviate"
				c.WeaviateHost = ""
			},
			wantErr: true,
			errIs:   config.ErrMissingRequired,
		},
		{
			name:    "Unknown Log Store",
			mutate:  func(c *config.Config) { c.LogStore = "mysql" },
			wantErr: true,
			errIs:   config.ErrInvalid,
		},
		{
			name:    "Negative Window",
			mutate:  func(c *config.Config) { c.ContextWindow = -1 },
			wantErr: true,
			errIs:   config.ErrInvalid,
		},
		{
			name:    "Zero Per Query",
			mutate:  func(c *config.Config) { c.RCAPerQuery = 0 },
			wantErr: true,
			errIs:   config.ErrInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				if tt.errIs != nil {
					assert.True(t, errors.Is(err, tt.errIs))
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
