package config

import (
	"strings"
	"time"
)

// RenderConfig contains configuration for the external rendering engine
// and the artifact object store workers talk to.
type RenderConfig struct {
	// EngineURL is the base URL of the rendering engine.
	EngineURL string `env:"RENDER_ENGINE_URL" envDefault:"http://localhost:9090"`

	// EngineTimeout is the per-render HTTP timeout.
	EngineTimeout time.Duration `env:"RENDER_ENGINE_TIMEOUT" envDefault:"2m"`

	// StoreURL is the base URL of the artifact store.
	StoreURL string `env:"ARTIFACT_STORE_URL" envDefault:"http://localhost:9091"`

	// StorePublicURL is the base URL returned to clients in artifact links.
	// Leave empty to use StoreURL.
	StorePublicURL string `env:"ARTIFACT_STORE_PUBLIC_URL" envDefault:""`

	// StoreTimeout is the per-upload HTTP timeout.
	StoreTimeout time.Duration `env:"ARTIFACT_STORE_TIMEOUT" envDefault:"1m"`
}

// Sanitize applies guardrails to render configuration values.
func (r *RenderConfig) Sanitize() {
	r.EngineURL = strings.TrimRight(strings.TrimSpace(r.EngineURL), "/")
	r.StoreURL = strings.TrimRight(strings.TrimSpace(r.StoreURL), "/")
	r.StorePublicURL = strings.TrimRight(strings.TrimSpace(r.StorePublicURL), "/")
	if r.EngineTimeout <= 0 {
		r.EngineTimeout = 2 * time.Minute
	}
	if r.StoreTimeout <= 0 {
		r.StoreTimeout = time.Minute
	}
}
