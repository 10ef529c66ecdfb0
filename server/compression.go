package server

import (
	"compress/gzip"
	"net/http"

	"github.com/klauspost/compress/gzhttp"
	"github.com/sambeau/sorrel/config"
)

// newCompressionHandler wraps h with gzip compression. Returns h unchanged
// if compression is disabled or the level is "none".
//
// Responses that set gzhttp.HeaderNoCompression (fault reports) are always
// sent uncompressed; the header itself never reaches the client.
func newCompressionHandler(h http.Handler, cfg config.CompressionConfig) http.Handler {
	// Compression disabled - still strip the opt-out header
	if !cfg.Enabled || cfg.Level == "none" {
		return stripNoCompression(h)
	}

	// Map level string to gzip compression level
	var level int
	switch cfg.Level {
	case "fastest":
		level = gzip.BestSpeed
	case "best":
		level = gzip.BestCompression
	default:
		// "default" and anything validation let through
		level = gzip.DefaultCompression
	}

	// Create wrapper with options
	wrapper, err := gzhttp.NewWrapper(
		gzhttp.MinSize(cfg.MinSize),
		gzhttp.CompressionLevel(level),
	)
	if err != nil {
		// Should not happen with valid options, but return unwrapped if it does
		return stripNoCompression(h)
	}

	return wrapper(h)
}

// stripNoCompression removes gzhttp.HeaderNoCompression from responses that
// bypass the gzip wrapper.
func stripNoCompression(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(&gzhttp.NoGzipResponseWriter{ResponseWriter: w}, r)
	})
}
