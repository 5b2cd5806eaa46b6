package upstream

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Wire format of the upstream imagine stream.

// submission is the single generation request sent after connecting.
type submission struct {
	Type      string         `json:"type"`
	Timestamp int64          `json:"timestamp"`
	Item      submissionItem `json:"item"`
}

type submissionItem struct {
	Type    string              `json:"type"`
	Content []submissionContent `json:"content"`
}

type submissionContent struct {
	RequestID  string         `json:"requestId"`
	Text       string         `json:"text"`
	Type       string         `json:"type"`
	Properties contentOptions `json:"properties"`
}

type contentOptions struct {
	SectionCount  int    `json:"section_count"`
	IsKidsMode    bool   `json:"is_kids_mode"`
	EnableNSFW    bool   `json:"enable_nsfw"`
	SkipUpsampler bool   `json:"skip_upsampler"`
	IsInitial     bool   `json:"is_initial"`
	AspectRatio   string `json:"aspect_ratio"`
}

func newSubmission(prompt, aspectRatio string) submission {
	return submission{
		Type:      "conversation.item.create",
		Timestamp: time.Now().UnixMilli(),
		Item: submissionItem{
			Type: "message",
			Content: []submissionContent{{
				RequestID: uuid.NewString(),
				Text:      prompt,
				Type:      "input_text",
				Properties: contentOptions{
					EnableNSFW:  true,
					AspectRatio: aspectRatio,
				},
			}},
		},
	}
}

// event is one streamed message: either an image update or an error.
type event struct {
	Type    string `json:"type"`
	Blob    string `json:"blob,omitempty"`
	URL     string `json:"url,omitempty"`
	ErrCode string `json:"err_code,omitempty"`
	ErrMsg  string `json:"err_msg,omitempty"`
}

// Image stage thresholds, in base64 length as streamed. The final
// rendition arrives as a jpg well above 100KB; mid-size pngs are the
// upsampler's intermediate pass.
const (
	finalBlobSize  = 100000
	mediumBlobSize = 30000
)

const (
	stagePreview = "preview"
	stageMedium  = "medium"
	stageFinal   = "final"
)

var imageURLPattern = regexp.MustCompile(`/images/([a-f0-9-]+)\.(png|jpg)`)

func extractImageID(url string) string {
	m := imageURLPattern.FindStringSubmatch(url)
	if m == nil {
		return ""
	}
	return m[1]
}

func isFinalImage(url string, blobSize int) bool {
	return strings.HasSuffix(url, ".jpg") && blobSize > finalBlobSize
}

func classifyStage(url string, blobSize int) string {
	switch {
	case isFinalImage(url, blobSize):
		return stageFinal
	case blobSize > mediumBlobSize:
		return stageMedium
	default:
		return stagePreview
	}
}
