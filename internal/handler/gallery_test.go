package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/imaginegw/imagine-gateway-go/internal/errors"
	"github.com/imaginegw/imagine-gateway-go/internal/model"
)

type stubArtifactReader struct {
	files   map[string][]byte
	entries []model.CacheEntry
}

func (s *stubArtifactReader) Get(filename string) ([]byte, string, error) {
	data, ok := s.files[filename]
	if !ok {
		return nil, "", apperrors.NotFound("image")
	}
	return data, "image/jpeg", nil
}

func (s *stubArtifactReader) List() []model.CacheEntry { return s.entries }

func galleryRouter(h *GalleryHandler) chi.Router {
	r := chi.NewRouter()
	r.Get("/gallery", h.Gallery)
	r.Get("/images/{file}", h.ServeImage)
	return r
}

func TestServeImage(t *testing.T) {
	h := NewGalleryHandler(&stubArtifactReader{files: map[string][]byte{
		"a1.jpg": []byte("jpeg-bytes"),
	}})
	r := galleryRouter(h)

	t.Run("serves cached content", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest("GET", "/images/a1.jpg", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
		assert.Equal(t, "jpeg-bytes", rec.Body.String())
	})

	t.Run("missing image is 404", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest("GET", "/images/nope.jpg", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestGalleryPage(t *testing.T) {
	h := NewGalleryHandler(&stubArtifactReader{entries: []model.CacheEntry{
		{ArtifactID: "a1", Filename: "a1.jpg", Size: 1234, CreatedAt: time.Now()},
	}})

	rec := httptest.NewRecorder()
	galleryRouter(h).ServeHTTP(rec, httptest.NewRequest("GET", "/gallery", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "/images/a1.jpg")
	assert.Contains(t, rec.Body.String(), "1 images")
}

func TestGalleryPageEmpty(t *testing.T) {
	h := NewGalleryHandler(&stubArtifactReader{})

	rec := httptest.NewRecorder()
	galleryRouter(h).ServeHTTP(rec, httptest.NewRequest("GET", "/gallery", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "No images yet")
}
