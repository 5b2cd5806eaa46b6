package handler

import (
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

const chatModelName = "grok-imagine"

// Progress percentage per rendition stage, used for the streamed
// thinking updates.
var stagePercent = map[string]int{
	"preview": 33,
	"medium":  66,
	"final":   99,
}

type ChatHandler struct {
	runner             GenerationRunner
	defaultAspectRatio string
	defaultCount       int
}

func NewChatHandler(runner GenerationRunner, defaultAspectRatio string, defaultCount int) *ChatHandler {
	return &ChatHandler{
		runner:             runner,
		defaultAspectRatio: defaultAspectRatio,
		defaultCount:       defaultCount,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   *bool         `json:"stream"`
	N        int           `json:"n"`
}

// Completions handles POST /v1/chat/completions. The latest user
// message is taken as the image prompt; responses carry markdown image
// links. Streaming defaults to on, matching chat client expectations.
func (h *ChatHandler) Completions(w http.ResponseWriter, r *http.Request) {
	var req chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid JSON body"))
		return
	}

	prompt := extractPrompt(req.Messages)
	if prompt == "" {
		writeError(w, apperrors.ValidationError("No prompt found in messages"))
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
		Prompt:      prompt,
		AspectRatio: h.defaultAspectRatio,
		Count:       count,
		SubmittedAt: time.Now(),
	}

	stream := req.Stream == nil || *req.Stream
	log.Info().
		Str("job_id", job.ID).
		Int("count", count).
		Bool("stream", stream).
		Msg("chat completion request")

	if stream {
		h.completionsStream(w, r, job)
		return
	}

	result, err := h.runner.AcquireAndRun(r.Context(), job, nil)
	if err != nil {
		writeError(w, err)
		return
	}

	content := completionContent(result)
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      completionID(),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   chatModelName,
		"choices": []map[string]any{{
			"index": 0,
			"message": map[string]any{
				"role":    "assistant",
				"content": content,
			},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{
			"prompt_tokens":     len(prompt),
			"completion_tokens": len(content),
			"total_tokens":      len(prompt) + len(content),
		},
	})
}

func (h *ChatHandler) completionsStream(w http.ResponseWriter, r *http.Request, job *model.GenerationJob) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperrors.Internal("Streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	chunkID := completionID()
	writeChunk(w, flusher, chunkID, chunkDelta{
		Thinking:         fmt.Sprintf("Generating images: %s", truncate(job.Prompt, 50)),
		ThinkingProgress: intPtr(0),
	}, "")

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

	// Emit a thinking update only when an image advances a stage.
	seenStages := make(map[string]string)

	for {
		select {
		case ev := <-progress:
			if seenStages[ev.ArtifactID] == ev.Stage {
				continue
			}
			seenStages[ev.ArtifactID] = ev.Stage
			pct := stagePercent[ev.Stage]
			writeChunk(w, flusher, chunkID, chunkDelta{
				Thinking:         fmt.Sprintf("Image %d/%d - %s (%d%%)", len(seenStages), ev.Total, ev.Stage, pct),
				ThinkingProgress: intPtr(pct),
			}, "")

		case <-done:
			// Drain progress delivered before completion.
			for drained := false; !drained; {
				select {
				case ev := <-progress:
					if seenStages[ev.ArtifactID] == ev.Stage {
						continue
					}
					seenStages[ev.ArtifactID] = ev.Stage
					pct := stagePercent[ev.Stage]
					writeChunk(w, flusher, chunkID, chunkDelta{
						Thinking:         fmt.Sprintf("Image %d/%d - %s (%d%%)", len(seenStages), ev.Total, ev.Stage, pct),
						ThinkingProgress: intPtr(pct),
					}, "")
				default:
					drained = true
				}
			}

			if runErr != nil {
				msg := "Image generation failed"
				if appErr, ok := apperrors.AsAppError(runErr); ok {
					msg = appErr.Message
				}
				writeChunk(w, flusher, chunkID, chunkDelta{
					Content: fmt.Sprintf("Generation failed: %s", msg),
				}, "")
				writeChunk(w, flusher, chunkID, chunkDelta{}, "stop")
				fmt.Fprint(w, "data: [DONE]\n\n")
				flusher.Flush()
				return
			}

			writeChunk(w, flusher, chunkID, chunkDelta{
				Thinking:         fmt.Sprintf("Done, %d images generated", len(result.Artifacts)),
				ThinkingProgress: intPtr(100),
			}, "")
			writeChunk(w, flusher, chunkID, chunkDelta{
				Content: completionContent(result),
			}, "")
			writeChunk(w, flusher, chunkID, chunkDelta{}, "stop")
			fmt.Fprint(w, "data: [DONE]\n\n")
			flusher.Flush()
			return

		case <-r.Context().Done():
			<-done
			return
		}
	}
}

type chunkDelta struct {
	Content          string `json:"content,omitempty"`
	Thinking         string `json:"thinking,omitempty"`
	ThinkingProgress *int   `json:"thinking_progress,omitempty"`
}

func writeChunk(w http.ResponseWriter, flusher http.Flusher, id string, delta chunkDelta, finishReason string) {
	var finish any
	if finishReason != "" {
		finish = finishReason
	}
	chunk := map[string]any{
		"id":      id,
		"object":  "chat.completion.chunk",
		"created": time.Now().Unix(),
		"model":   chatModelName,
		"choices": []map[string]any{{
			"index":         0,
			"delta":         delta,
			"finish_reason": finish,
		}},
	}
	payload, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}

func completionContent(result *model.GenerationResult) string {
	var b strings.Builder
	b.WriteString("Here are your generated images:\n\n")
	for i, a := range result.Artifacts {
		fmt.Fprintf(&b, "![Image %d](%s)\n\n", i+1, a.URL)
	}
	return b.String()
}

func completionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func extractPrompt(messages []chatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			if content := strings.TrimSpace(messages[i].Content); content != "" {
				return content
			}
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func intPtr(v int) *int { return &v }
