// compression.go - gzip for text responses.
//
// Static assets and rendered form pages are compressed when the client
// accepts gzip and the body is large enough to benefit. Upload responses are
// left alone so the JSON result streams back as written.
package server

import (
	"net/http"

	"github.com/klauspost/compress/gzhttp"
)

// minCompressSize is the smallest body worth compressing.
const minCompressSize = 1024

// compressionMiddleware wraps next with gzhttp unless the request is an upload.
func compressionMiddleware(next http.Handler) http.Handler {
	wrapper, err := gzhttp.NewWrapper(
		gzhttp.MinSize(minCompressSize),
		gzhttp.ExceptContentTypes([]string{
			"image/png",
			"image/jpeg",
			"image/gif",
			"image/webp",
			"application/zip",
			"application/gzip",
			"application/pdf",
			"video/mp4",
		}),
	)
	if err != nil {
		// Options are static; a failure here is a programming error.
		panic(err)
	}

	compressed := wrapper(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shouldSkipCompression(r) {
			next.ServeHTTP(w, r)
			return
		}
		compressed.ServeHTTP(w, r)
	})
}

// shouldSkipCompression determines if compression should be skipped for this request.
func shouldSkipCompression(r *http.Request) bool {
	return r.Method == http.MethodPost && r.URL.Path == uploadPath
}
