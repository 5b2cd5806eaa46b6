package upstream

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/imaginegw/imagine-gateway-go/internal/errors"
	"github.com/imaginegw/imagine-gateway-go/internal/model"
)

func TestExtractImageID(t *testing.T) {
	assert.Equal(t, "ab12cd34-5678-90ef-ab12-cd3456789012",
		extractImageID("https://assets.grok.com/images/ab12cd34-5678-90ef-ab12-cd3456789012.jpg"))
	assert.Equal(t, "deadbeef", extractImageID("/images/deadbeef.png?x=1"))
	assert.Equal(t, "", extractImageID("https://assets.grok.com/videos/abc.mp4"))
	assert.Equal(t, "", extractImageID(""))
}

func TestClassifyStage(t *testing.T) {
	assert.Equal(t, stageFinal, classifyStage("/images/a.jpg", 150000))
	assert.Equal(t, stageMedium, classifyStage("/images/a.jpg", 50000), "jpg below final threshold is medium")
	assert.Equal(t, stageMedium, classifyStage("/images/a.png", 150000), "png never classifies as final")
	assert.Equal(t, stagePreview, classifyStage("/images/a.png", 10000))
}

func TestClassifyStreamError(t *testing.T) {
	err := classifyStreamError(event{Type: "error", ErrCode: "rate_limit_exceeded", ErrMsg: "too many"})
	assert.Equal(t, apperrors.ErrCodeUpstreamRejected, apperrors.GetCode(err))

	err = classifyStreamError(event{Type: "error", ErrCode: "unauthorized", ErrMsg: "bad cookie"})
	assert.Equal(t, apperrors.ErrCodeUpstreamRejected, apperrors.GetCode(err))

	err = classifyStreamError(event{Type: "error", ErrCode: "content_policy", ErrMsg: "nope"})
	assert.Equal(t, apperrors.ErrCodeUpstreamContentRejected, apperrors.GetCode(err))

	assert.NoError(t, classifyStreamError(event{Type: "error"}))
}

func TestApplyImageEventMonotonicUpgrade(t *testing.T) {
	images := make(map[string]*imageState)

	preview := event{Type: "image", URL: "/images/aa11.png", Blob: strings.Repeat("x", 1000)}
	st := applyImageEvent(images, preview)
	require.NotNil(t, st)
	assert.Equal(t, stagePreview, st.stage)

	medium := event{Type: "image", URL: "/images/aa11.png", Blob: strings.Repeat("x", 40000)}
	st = applyImageEvent(images, medium)
	require.NotNil(t, st)
	assert.Equal(t, stageMedium, st.stage)

	// Smaller re-delivery is stale.
	assert.Nil(t, applyImageEvent(images, preview))

	final := event{Type: "image", URL: "/images/aa11.jpg", Blob: strings.Repeat("x", 150000)}
	st = applyImageEvent(images, final)
	require.NotNil(t, st)
	assert.Equal(t, stageFinal, st.stage)

	// Nothing upgrades past final.
	assert.Nil(t, applyImageEvent(images, final))
}

func TestFinalImagesLargestFirst(t *testing.T) {
	images := map[string]*imageState{
		"a": {id: "a", stage: stageFinal, blobSize: 150000},
		"b": {id: "b", stage: stageMedium, blobSize: 400000},
		"c": {id: "c", stage: stageFinal, blobSize: 200000},
	}

	out := finalImages(images, 4)
	require.Len(t, out, 2)
	assert.Equal(t, "c", out[0].id)
	assert.Equal(t, "a", out[1].id)

	out = finalImages(images, 1)
	require.Len(t, out, 1)
	assert.Equal(t, "c", out[0].id)
}

func TestStalledMedium(t *testing.T) {
	now := time.Now()
	images := map[string]*imageState{
		"fresh": {id: "fresh", stage: stageMedium, seenAt: now.Add(-5 * time.Second)},
		"done":  {id: "done", stage: stageFinal, seenAt: now.Add(-time.Minute)},
	}
	assert.Empty(t, stalledMedium(images, now), "recent medium is still progressing")

	images["stuck"] = &imageState{id: "stuck", stage: stageMedium, seenAt: now.Add(-moderationStallAfter - time.Second)}
	assert.Equal(t, "stuck", stalledMedium(images, now))
}

type stubCache struct {
	jobID     string
	artifacts []model.Artifact
}

func (c *stubCache) Store(jobID string, artifacts []model.Artifact) ([]model.CacheEntry, error) {
	c.jobID = jobID
	c.artifacts = artifacts
	entries := make([]model.CacheEntry, 0, len(artifacts))
	for _, a := range artifacts {
		entries = append(entries, model.CacheEntry{
			ArtifactID: a.ID,
			Filename:   a.ID + ".jpg",
			URL:        "http://gateway/images/" + a.ID + ".jpg",
			Size:       int64(len(a.Data)),
			JobID:      jobID,
		})
	}
	return entries, nil
}

// The client dials with an upstream Origin header, so the test
// endpoint must not enforce same-origin.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// newStreamServer runs a websocket endpoint that reads the submission
// and hands the connection to serve.
func newStreamServer(t *testing.T, serve func(conn *websocket.Conn, sub submission)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var sub submission
		require.NoError(t, conn.ReadJSON(&sub))
		serve(conn, sub)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func imageEvent(id string, size int, ext string) event {
	raw := make([]byte, size)
	return event{
		Type: "image",
		URL:  fmt.Sprintf("https://assets.example/images/%s.%s", id, ext),
		Blob: base64.StdEncoding.EncodeToString(raw),
	}
}

func testSession() *model.Session {
	return &model.Session{ID: "sess-1", Secret: "sso-token"}
}

func testJob(count int) *model.GenerationJob {
	return &model.GenerationJob{ID: "job-1", Prompt: "a lighthouse", AspectRatio: "2:3", Count: count}
}

func TestGenerateHappyPath(t *testing.T) {
	srv := newStreamServer(t, func(conn *websocket.Conn, sub submission) {
		assert.Equal(t, "conversation.item.create", sub.Type)
		require.Len(t, sub.Item.Content, 1)
		content := sub.Item.Content[0]
		assert.Equal(t, "a lighthouse", content.Text)
		assert.Equal(t, "2:3", content.Properties.AspectRatio)
		assert.True(t, content.Properties.EnableNSFW)
		assert.NotEmpty(t, content.RequestID)

		conn.WriteJSON(imageEvent("aaaa1111", 10000, "png"))
		conn.WriteJSON(imageEvent("aaaa1111", 40000, "png"))
		conn.WriteJSON(imageEvent("aaaa1111", 120000, "jpg"))
	})
	defer srv.Close()

	cache := &stubCache{}
	client, err := NewClient(wsURL(srv), 10*time.Second, cache, "")
	require.NoError(t, err)

	var events []model.ProgressEvent
	result, err := client.Generate(context.Background(), testSession(), testJob(1), func(ev model.ProgressEvent) {
		events = append(events, ev)
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, "job-1", result.JobID)
	assert.Equal(t, "sess-1", result.SessionID)
	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, "aaaa1111", result.Artifacts[0].ID)
	assert.Equal(t, "http://gateway/images/aaaa1111.jpg", result.Artifacts[0].URL)
	assert.Len(t, result.Artifacts[0].Data, 120000)

	assert.Equal(t, "job-1", cache.jobID)

	require.NotEmpty(t, events)
	assert.Equal(t, "preview", events[0].Stage)
	last := events[len(events)-1]
	assert.Equal(t, "final", last.Stage)
	assert.True(t, last.Final)
	assert.Equal(t, 1, last.Completed)
}

func TestGenerateSendsCredentials(t *testing.T) {
	var cookie, origin string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie = r.Header.Get("Cookie")
		origin = r.Header.Get("Origin")
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var sub submission
		require.NoError(t, conn.ReadJSON(&sub))
		conn.WriteJSON(imageEvent("bbbb2222", 120000, "jpg"))
	}))
	defer srv.Close()

	client, err := NewClient(wsURL(srv), 10*time.Second, &stubCache{}, "")
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), testSession(), testJob(1), nil)
	require.NoError(t, err)

	assert.Contains(t, cookie, "sso=sso-token")
	assert.Contains(t, cookie, "sso-rw=sso-token")
	assert.Equal(t, upstreamOrigin, origin)
}

func TestGenerateRateLimited(t *testing.T) {
	srv := newStreamServer(t, func(conn *websocket.Conn, sub submission) {
		conn.WriteJSON(event{Type: "error", ErrCode: "rate_limit_exceeded", ErrMsg: "quota spent"})
	})
	defer srv.Close()

	client, err := NewClient(wsURL(srv), 10*time.Second, &stubCache{}, "")
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), testSession(), testJob(1), nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeUpstreamRejected, apperrors.GetCode(err))
}

func TestGenerateTimeout(t *testing.T) {
	srv := newStreamServer(t, func(conn *websocket.Conn, sub submission) {
		// Hold the stream open without sending anything.
		time.Sleep(2 * time.Second)
	})
	defer srv.Close()

	client, err := NewClient(wsURL(srv), 300*time.Millisecond, &stubCache{}, "")
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), testSession(), testJob(1), nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeUpstreamTimeout, apperrors.GetCode(err))
}

func TestGenerateConnectionRefused(t *testing.T) {
	client, err := NewClient("ws://127.0.0.1:1/ws", 2*time.Second, &stubCache{}, "")
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), testSession(), testJob(1), nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeUpstreamConnection, apperrors.GetCode(err))
}

func TestGenerateSalvagesFinalsOnEarlyClose(t *testing.T) {
	srv := newStreamServer(t, func(conn *websocket.Conn, sub submission) {
		// One final, then the stream drops before the requested count.
		conn.WriteJSON(imageEvent("cccc3333", 120000, "jpg"))
	})
	defer srv.Close()

	client, err := NewClient(wsURL(srv), 10*time.Second, &stubCache{}, "")
	require.NoError(t, err)

	result, err := client.Generate(context.Background(), testSession(), testJob(2), nil)
	require.NoError(t, err)
	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, "cccc3333", result.Artifacts[0].ID)
}
