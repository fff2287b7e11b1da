// Package uistatic embeds the single-page web UI.
package uistatic

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"net/http"
	"strings"
	"time"
)

//go:embed app/index.html
var indexHTML []byte

var (
	indexETag    = contentETag(indexHTML)
	indexModTime = time.Now()
)

// Handler answers every non-API path with the page; routing happens in the
// browser. Conditional requests are honoured through the ETag.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api" || strings.HasPrefix(r.URL.Path, "/api/") {
			http.NotFound(w, r)
			return
		}
		header := w.Header()
		header.Set("Content-Type", "text/html; charset=utf-8")
		header.Set("Cache-Control", "no-cache")
		header.Set("ETag", indexETag)
		header.Set("X-Content-Type-Options", "nosniff")
		http.ServeContent(w, r, "index.html", indexModTime, bytes.NewReader(indexHTML))
	})
}

func contentETag(data []byte) string {
	sum := sha256.Sum256(data)
	return `"` + hex.EncodeToString(sum[:8]) + `"`
}
