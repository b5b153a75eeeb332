package server

import (
	"crypto/sha1" // #nosec G505 - hashing for cache-busting only
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"net/http"
)

//go:embed web
var webFS embed.FS

// asset is one embedded static file with its content hash.
type asset struct {
	name        string
	contentType string
	body        []byte
	hash        string
	url         string
}

func loadAsset(name, contentType string) (*asset, error) {
	b, err := fs.ReadFile(webFS, "web/"+name)
	if err != nil {
		return nil, fmt.Errorf("embedded %s: %w", name, err)
	}
	sum := sha1.Sum(b)
	h := hex.EncodeToString(sum[:])
	return &asset{
		name:        name,
		contentType: contentType,
		body:        b,
		hash:        h,
		// e.g. /app.js?v=<sha1>
		url: fmt.Sprintf("/%s?v=%s", name, h),
	}, nil
}

func (a *asset) URL() string { return a.url }

func (a *asset) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("v") == a.hash {
		// strong caching (1 year) + immutable
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	} else {
		w.Header().Set("Cache-Control", "no-cache")
	}
	w.Header().Set("ETag", `"`+a.hash+`"`)
	if r.Header.Get("If-None-Match") == `"`+a.hash+`"` {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", a.contentType)
	_, _ = w.Write(a.body)
}
