package app

import (
	"net/http"

	"github.com/rs/cors"
)

// Browsers send the refresh token cookie cross-origin, so any origin is
// echoed back with credentials allowed.
var defaultCorsOptions = cors.Options{
	AllowOriginFunc: func(origin string) bool {
		return true
	},
	AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "HEAD", "OPTIONS"},
	AllowedHeaders:   []string{"*"},
	ExposedHeaders:   []string{"X-Request-ID"},
	AllowCredentials: true,
}

func CorsMiddleware(opts *cors.Options) func(h http.Handler) http.Handler {
	merged := defaultCorsOptions

	if opts != nil {
		if opts.AllowOriginFunc != nil {
			merged.AllowOriginFunc = opts.AllowOriginFunc
		}
		if len(opts.AllowedMethods) > 0 {
			merged.AllowedMethods = opts.AllowedMethods
		}
		if len(opts.AllowedHeaders) > 0 {
			merged.AllowedHeaders = opts.AllowedHeaders
		}
		if len(opts.ExposedHeaders) > 0 {
			merged.ExposedHeaders = opts.ExposedHeaders
		}
		if opts.MaxAge > 0 {
			merged.MaxAge = opts.MaxAge
		}
	}

	return cors.New(merged).Handler
}
