package config

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// MaxUploadBytes caps the size of a multipart submission body.
	MaxUploadBytes int64 `env:"HTTP_MAX_UPLOAD_BYTES" envDefault:"134217728"` // 128 MiB

	// MaxPhotos caps the number of photos accepted per submission.
	MaxPhotos int `env:"HTTP_MAX_PHOTOS" envDefault:"20"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	if h.MaxUploadBytes < 1<<20 {
		h.MaxUploadBytes = 1 << 20
	}
	if h.MaxPhotos < 1 {
		h.MaxPhotos = 1
	}
	if h.MaxPhotos > 100 {
		h.MaxPhotos = 100
	}
}
