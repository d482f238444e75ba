package config

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// BaseURL is the base URL of the application (e.g., "https://render.example.com").
	// Used for generating absolute URLs in webhook payloads and other external contexts.
	BaseURL string `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`

	// QueueDepthThreshold marks /healthz degraded when the queued backlog
	// exceeds this many jobs. Zero disables the check.
	QueueDepthThreshold int `env:"HTTP_QUEUE_DEPTH_THRESHOLD" envDefault:"1000"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	if h.QueueDepthThreshold < 0 {
		h.QueueDepthThreshold = 0
	}
}
