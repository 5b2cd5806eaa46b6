// Package upstream drives generation jobs over the provider's
// websocket stream. One connection serves one job: connect, submit,
// consume image/error events until the requested count of final
// renditions arrives or a terminal condition fires.
package upstream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	apperrors "github.com/imaginegw/imagine-gateway-go/internal/errors"
	"github.com/imaginegw/imagine-gateway-go/internal/model"
	"github.com/imaginegw/imagine-gateway-go/internal/util"
)

// ArtifactStore persists decoded artifacts before a result is returned.
type ArtifactStore interface {
	Store(jobID string, artifacts []model.Artifact) ([]model.CacheEntry, error)
}

const (
	dialTimeout = 20 * time.Second

	// A medium rendition with no final after this long means the
	// upsampler was stopped by content moderation.
	moderationStallAfter = 15 * time.Second

	// With at least one final in hand, this much stream silence means
	// the job is done even if the requested count was not reached.
	idleCompleteAfter = 10 * time.Second

	readPollInterval = time.Second

	upstreamOrigin = "https://grok.com"
	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36"
)

// Client implements the generation driver over the upstream websocket.
type Client struct {
	wsURL    string
	timeout  time.Duration
	cache    ArtifactStore
	proxyURL *url.URL
}

func NewClient(wsURL string, timeout time.Duration, cache ArtifactStore, proxyURL string) (*Client, error) {
	c := &Client{wsURL: wsURL, timeout: timeout, cache: cache}
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, apperrors.InvalidInput("PROXY_URL", err.Error())
		}
		c.proxyURL = u
	}
	return c, nil
}

// imageState accumulates the best rendition seen so far per artifact.
type imageState struct {
	id       string
	stage    string
	blob     string
	blobSize int
	url      string
	seenAt   time.Time
}

type rawMessage struct {
	data []byte
	err  error
}

// Generate runs one job over a fresh connection using the session's
// credential. On success the final renditions are decoded and stored
// through the artifact cache before the result is returned.
func (c *Client) Generate(ctx context.Context, session *model.Session, job *model.GenerationJob, onProgress model.ProgressFunc) (*model.GenerationResult, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.dial(ctx, session)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.WriteJSON(newSubmission(job.Prompt, job.AspectRatio)); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeUpstreamConnection, "submit generation request", err)
	}

	log.Debug().
		Str("job_id", job.ID).
		Str("session_id", session.ID).
		Str("aspect_ratio", job.AspectRatio).
		Int("count", job.Count).
		Msg("generation submitted")

	images, err := c.consume(ctx, conn, job, onProgress)
	finals := finalImages(images, job.Count)
	if err != nil && len(finals) == 0 {
		return nil, err
	}
	if len(finals) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeUpstreamConnection, "stream closed without image data")
	}

	artifacts := make([]model.Artifact, 0, len(finals))
	for _, img := range finals {
		data, derr := base64.StdEncoding.DecodeString(img.blob)
		if derr != nil {
			log.Warn().Str("job_id", job.ID).Str("image_id", img.id).Msg("discarding undecodable image blob")
			continue
		}
		contentType := "image/jpeg"
		if strings.HasSuffix(img.url, ".png") {
			contentType = "image/png"
		}
		artifacts = append(artifacts, model.Artifact{
			ID:          img.id,
			URL:         img.url,
			ContentType: contentType,
			Data:        data,
		})
	}
	if len(artifacts) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeUpstreamConnection, "stream closed without image data")
	}

	entries, serr := c.cache.Store(job.ID, artifacts)
	if serr != nil {
		return nil, serr
	}
	for i := range artifacts {
		artifacts[i].URL = entries[i].URL
	}

	return &model.GenerationResult{
		JobID:     job.ID,
		SessionID: session.ID,
		Artifacts: artifacts,
		Elapsed:   time.Since(start),
	}, nil
}

func (c *Client) dial(ctx context.Context, session *model.Session) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: dialTimeout,
	}
	if c.proxyURL != nil {
		dialer.Proxy = http.ProxyURL(c.proxyURL)
	}

	header := http.Header{}
	header.Set("Origin", upstreamOrigin)
	header.Set("User-Agent", userAgent)
	header.Set("Cookie", fmt.Sprintf("sso=%s; sso-rw=%s", session.Secret, session.Secret))

	conn, resp, err := dialer.DialContext(ctx, c.wsURL, header)
	if err != nil {
		if resp != nil {
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				log.Warn().
					Str("session", util.MaskSecret(session.Secret)).
					Int("status", resp.StatusCode).
					Msg("websocket handshake rejected")
				return nil, apperrors.UpstreamRejected(fmt.Sprintf("handshake rejected with status %d", resp.StatusCode))
			}
			return nil, apperrors.Wrap(apperrors.ErrCodeUpstreamConnection,
				fmt.Sprintf("websocket handshake failed with status %d", resp.StatusCode), err)
		}
		if ctx.Err() != nil {
			return nil, apperrors.UpstreamTimeout()
		}
		return nil, apperrors.Wrap(apperrors.ErrCodeUpstreamConnection, "websocket dial failed", err)
	}
	return conn, nil
}

// consume reads the event stream until the job completes or a terminal
// condition fires. It returns whatever image state was accumulated so
// the caller can salvage partial finals on timeout.
func (c *Client) consume(ctx context.Context, conn *websocket.Conn, job *model.GenerationJob, onProgress model.ProgressFunc) (map[string]*imageState, error) {
	messages := make(chan rawMessage, 8)
	go func() {
		defer close(messages)
		for {
			_, data, err := conn.ReadMessage()
			select {
			case messages <- rawMessage{data: data, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	images := make(map[string]*imageState)
	finalCount := 0
	lastActivity := time.Now()
	poll := time.NewTicker(readPollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			if finalCount > 0 {
				// The window closed with finals in hand; ship them.
				return images, nil
			}
			if id := stalledMedium(images, time.Now()); id != "" {
				return images, apperrors.UpstreamContentRejected("image withheld by upstream content moderation")
			}
			return images, apperrors.UpstreamTimeout()

		case <-poll.C:
			now := time.Now()
			if finalCount > 0 && now.Sub(lastActivity) > idleCompleteAfter {
				return images, nil
			}
			if finalCount == 0 {
				if id := stalledMedium(images, now); id != "" {
					log.Info().
						Str("job_id", job.ID).
						Str("image_id", id).
						Msg("medium rendition never finalized, treating as moderation rejection")
					return images, apperrors.UpstreamContentRejected("image withheld by upstream content moderation")
				}
			}

		case msg, ok := <-messages:
			if !ok {
				if finalCount > 0 {
					return images, nil
				}
				return images, apperrors.New(apperrors.ErrCodeUpstreamConnection, "stream closed unexpectedly")
			}
			if msg.err != nil {
				if finalCount > 0 {
					return images, nil
				}
				return images, apperrors.Wrap(apperrors.ErrCodeUpstreamConnection, "stream read failed", msg.err)
			}

			lastActivity = time.Now()
			var ev event
			if err := json.Unmarshal(msg.data, &ev); err != nil {
				log.Debug().Str("job_id", job.ID).Msg("skipping unparseable stream message")
				continue
			}

			switch ev.Type {
			case "error":
				if terr := classifyStreamError(ev); terr != nil {
					return images, terr
				}
			case "image":
				if grew := applyImageEvent(images, ev); grew != nil {
					if grew.stage == stageFinal {
						finalCount++
					}
					if onProgress != nil {
						onProgress(model.ProgressEvent{
							ArtifactID: grew.id,
							Stage:      grew.stage,
							Size:       grew.blobSize,
							Final:      grew.stage == stageFinal,
							Completed:  finalCount,
							Total:      job.Count,
						})
					}
					if finalCount >= job.Count {
						return images, nil
					}
				}
			}
		}
	}
}

// classifyStreamError maps a terminal upstream error event to a typed
// error, or nil for advisory errors the stream can recover from.
func classifyStreamError(ev event) error {
	switch ev.ErrCode {
	case "rate_limit_exceeded", "unauthorized", "forbidden":
		return apperrors.UpstreamRejected(fmt.Sprintf("%s: %s", ev.ErrCode, ev.ErrMsg))
	case "":
		return nil
	default:
		return apperrors.UpstreamContentRejected(fmt.Sprintf("%s: %s", ev.ErrCode, ev.ErrMsg))
	}
}

// applyImageEvent folds one image event into the accumulated state and
// returns the state if the event advanced it, nil if it was stale.
func applyImageEvent(images map[string]*imageState, ev event) *imageState {
	id := extractImageID(ev.URL)
	if id == "" || ev.Blob == "" {
		return nil
	}

	size := len(ev.Blob)
	stage := classifyStage(ev.URL, size)

	state, ok := images[id]
	if !ok {
		state = &imageState{id: id}
		images[id] = state
	}

	// Events only matter when they upgrade the stored rendition.
	if state.stage == stageFinal {
		return nil
	}
	if stage != stageFinal && size <= state.blobSize {
		return nil
	}

	state.stage = stage
	state.blob = ev.Blob
	state.blobSize = size
	state.url = ev.URL
	state.seenAt = time.Now()
	return state
}

// stalledMedium returns the id of a medium rendition that has sat
// unfinalized past the moderation window, or "".
func stalledMedium(images map[string]*imageState, now time.Time) string {
	for id, st := range images {
		if st.stage == stageMedium && now.Sub(st.seenAt) > moderationStallAfter {
			return id
		}
	}
	return ""
}

// finalImages returns up to n final renditions, largest first.
func finalImages(images map[string]*imageState, n int) []*imageState {
	out := make([]*imageState, 0, len(images))
	for _, st := range images {
		if st.stage == stageFinal {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].blobSize > out[j].blobSize })
	if len(out) > n {
		out = out[:n]
	}
	return out
}
