package handler

import (
	"html/template"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/imaginegw/imagine-gateway-go/internal/model"
)

const galleryPageLimit = 50

// ArtifactReader is the cache surface the public image routes need.
type ArtifactReader interface {
	Get(filename string) ([]byte, string, error)
	List() []model.CacheEntry
}

type GalleryHandler struct {
	cache ArtifactReader
}

func NewGalleryHandler(cache ArtifactReader) *GalleryHandler {
	return &GalleryHandler{cache: cache}
}

// ServeImage handles GET /images/{file}.
func (h *GalleryHandler) ServeImage(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "file")

	data, contentType, err := h.cache.Get(filename)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Write(data)
}

// Gallery handles GET /gallery with a simple self-refreshing page of
// recent images.
func (h *GalleryHandler) Gallery(w http.ResponseWriter, r *http.Request) {
	entries := h.cache.List()
	total := len(entries)
	if len(entries) > galleryPageLimit {
		entries = entries[:galleryPageLimit]
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := galleryTemplate.Execute(w, galleryPage{Total: total, Entries: entries}); err != nil {
		log.Error().Err(err).Msg("gallery render failed")
	}
}

type galleryPage struct {
	Total   int
	Entries []model.CacheEntry
}

var galleryTemplate = template.Must(template.New("gallery").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Imagine Gallery</title>
<style>
* { margin: 0; padding: 0; box-sizing: border-box; }
body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; background: #1a1a2e; color: #eee; min-height: 100vh; padding: 20px; }
h1 { text-align: center; margin-bottom: 10px; }
.subtitle { text-align: center; color: #888; margin-bottom: 30px; }
.gallery { display: grid; grid-template-columns: repeat(auto-fill, minmax(280px, 1fr)); gap: 20px; max-width: 1400px; margin: 0 auto; }
.card { background: #16213e; border-radius: 12px; overflow: hidden; }
.card img { width: 100%; height: 300px; object-fit: cover; display: block; }
.info { padding: 12px 15px; display: flex; justify-content: space-between; font-size: 12px; color: #888; }
.empty { text-align: center; padding: 60px; color: #666; }
</style>
</head>
<body>
<h1>Imagine Gallery</h1>
<p class="subtitle">{{.Total}} images</p>
<div class="gallery">
{{range .Entries}}<div class="card">
<a href="/images/{{.Filename}}" target="_blank"><img src="/images/{{.Filename}}" alt="{{.Filename}}" loading="lazy"></a>
<div class="info"><span>{{.CreatedAt.Format "2006-01-02 15:04:05"}}</span><span>{{.Size}} bytes</span></div>
</div>
{{else}}<div class="empty">No images yet</div>{{end}}
</div>
<script>setTimeout(function () { location.reload() }, 30000)</script>
</body>
</html>
`))
