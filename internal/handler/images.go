package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/imaginegw/imagine-gateway-go/internal/errors"
	"github.com/imaginegw/imagine-gateway-go/internal/model"
)

// GenerationRunner runs one job against the session pool.
type GenerationRunner interface {
	AcquireAndRun(ctx context.Context, job *model.GenerationJob, onProgress model.ProgressFunc) (*model.GenerationResult, error)
}

type ImagesHandler struct {
	runner             GenerationRunner
	defaultAspectRatio string
	defaultCount       int
}

func NewImagesHandler(runner GenerationRunner, defaultAspectRatio string, defaultCount int) *ImagesHandler {
	return &ImagesHandler{
		runner:             runner,
		defaultAspectRatio: defaultAspectRatio,
		defaultCount:       defaultCount,
	}
}

type imageGenerationRequest struct {
	Prompt         string `json:"prompt"`
	Model          string `json:"model"`
	N              int    `json:"n"`
	Size           string `json:"size"`
	ResponseFormat string `json:"response_format"`
	Stream         bool   `json:"stream"`
}

type imageData struct {
	URL     string `json:"url,omitempty"`
	B64JSON string `json:"b64_json,omitempty"`
}

type imageGenerationResponse struct {
	Created int64       `json:"created"`
	Data    []imageData `json:"data"`
}

var sizeAspectRatios = map[string]string{
	"1024x1024": "1:1",
	"1024x1536": "2:3",
	"1536x1024": "3:2",
	"512x512":   "1:1",
	"256x256":   "1:1",
}

func (h *ImagesHandler) aspectRatioFor(size string) string {
	if ar, ok := sizeAspectRatios[size]; ok {
		return ar
	}
	return h.defaultAspectRatio
}

// Generate handles POST /v1/images/generations.
func (h *ImagesHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req imageGenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid JSON body"))
		return
	}

	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, apperrors.MissingRequired("prompt"))
		return
	}

	count := req.N
	if count == 0 {
		count = h.defaultCount
	}
	if count < 1 || count > 4 {
		writeError(w, apperrors.InvalidInput("n", "must be between 1 and 4"))
		return
	}

	job := &model.GenerationJob{
		ID:          uuid.NewString(),
		Prompt:      strings.TrimSpace(req.Prompt),
		AspectRatio: h.aspectRatioFor(req.Size),
		Count:       count,
		SubmittedAt: time.Now(),
	}

	log.Info().
		Str("job_id", job.ID).
		Int("count", job.Count).
		Bool("stream", req.Stream).
		Msg("image generation request")

	if req.Stream {
		h.generateStream(w, r, job)
		return
	}

	result, err := h.runner.AcquireAndRun(r.Context(), job, nil)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, buildImageResponse(result, req.ResponseFormat))
}

func buildImageResponse(result *model.GenerationResult, format string) imageGenerationResponse {
	resp := imageGenerationResponse{Created: time.Now().Unix()}
	for _, a := range result.Artifacts {
		if format == "b64_json" {
			resp.Data = append(resp.Data, imageData{B64JSON: base64.StdEncoding.EncodeToString(a.Data)})
		} else {
			resp.Data = append(resp.Data, imageData{URL: a.URL})
		}
	}
	return resp
}

// generateStream runs the job while relaying progress as SSE events:
// progress updates, then one complete or error event.
func (h *ImagesHandler) generateStream(w http.ResponseWriter, r *http.Request, job *model.GenerationJob) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperrors.Internal("Streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	progress := make(chan model.ProgressEvent, 64)
	done := make(chan struct{})
	var result *model.GenerationResult
	var runErr error

	go func() {
		defer close(done)
		result, runErr = h.runner.AcquireAndRun(r.Context(), job, func(ev model.ProgressEvent) {
			select {
			case progress <- ev:
			default:
			}
		})
	}()

	for {
		select {
		case ev := <-progress:
			writeSSE(w, flusher, "progress", progressPayload(ev))

		case <-done:
			// Drain progress delivered before completion.
			for drained := false; !drained; {
				select {
				case ev := <-progress:
					writeSSE(w, flusher, "progress", progressPayload(ev))
				default:
					drained = true
				}
			}

			if runErr != nil {
				writeSSE(w, flusher, "error", map[string]any{
					"error": apperrors.GetCode(runErr),
					"message": func() string {
						if appErr, ok := apperrors.AsAppError(runErr); ok {
							return appErr.Message
						}
						return "Image generation failed"
					}(),
				})
				return
			}

			data := make([]imageData, 0, len(result.Artifacts))
			for _, a := range result.Artifacts {
				data = append(data, imageData{URL: a.URL})
			}
			writeSSE(w, flusher, "complete", map[string]any{
				"created": time.Now().Unix(),
				"data":    data,
			})
			return

		case <-r.Context().Done():
			<-done
			return
		}
	}
}

func progressPayload(ev model.ProgressEvent) map[string]any {
	return map[string]any{
		"image_id":  ev.ArtifactID,
		"stage":     ev.Stage,
		"is_final":  ev.Final,
		"completed": ev.Completed,
		"total":     ev.Total,
		"progress":  fmt.Sprintf("%d/%d", ev.Completed, ev.Total),
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}
