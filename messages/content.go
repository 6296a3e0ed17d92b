package messages

import (
	"encoding/base64"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var (
	textPartJSON  = []byte(`{"type":"text"}`)
	imagePartJSON = []byte(`{"type":"image_url"}`)
)

// ContentPart is one element of a message's content: a text run or an image reference.
type ContentPart interface {
	contentPart()
}

// TextPart is a run of plain text.
type TextPart struct {
	Text string
	_    struct{}
}

// Text creates a text content part.
func Text(text string) TextPart {
	return TextPart{Text: text}
}

func (TextPart) contentPart() {}

func (t TextPart) MarshalJSON() ([]byte, error) {
	return sjson.SetBytes(textPartJSON, "text", t.Text)
}

func (t *TextPart) UnmarshalJSON(input []byte) error {
	if !gjson.ValidBytes(input) {
		return fmt.Errorf("invalid json: %s", input)
	}
	t.Text = gjson.GetBytes(input, "text").String()
	return nil
}

// ImageDetail hints at the resolution the model should use for an image.
type ImageDetail string

const (
	DetailAuto ImageDetail = "auto"
	DetailLow  ImageDetail = "low"
	DetailHigh ImageDetail = "high"
)

// ImagePart references an image by URL or data URI.
type ImagePart struct {
	URL    string
	Detail ImageDetail
	_      struct{}
}

// Image creates an image part from a URL. An empty detail means auto.
func Image(url string, detail ImageDetail) ImagePart {
	if detail == "" {
		detail = DetailAuto
	}
	return ImagePart{URL: url, Detail: detail}
}

// ImageData creates an image part carrying the image inline as a base64 data URI.
func ImageData(mimeType string, data []byte, detail ImageDetail) ImagePart {
	return Image("data:"+mimeType+";base64,"+base64.StdEncoding.EncodeToString(data), detail)
}

func (ImagePart) contentPart() {}

func (i ImagePart) MarshalJSON() ([]byte, error) {
	result, err := sjson.SetBytes(imagePartJSON, "image_url.url", i.URL)
	if err != nil {
		return nil, err
	}
	if i.Detail != "" {
		result, err = sjson.SetBytes(result, "image_url.detail", string(i.Detail))
	}
	return result, err
}

func (i *ImagePart) UnmarshalJSON(input []byte) error {
	if !gjson.ValidBytes(input) {
		return fmt.Errorf("invalid json: %s", input)
	}
	img := gjson.GetBytes(input, "image_url")
	if img.Type == gjson.String {
		i.URL = img.String()
		return nil
	}
	i.URL = img.Get("url").String()
	i.Detail = ImageDetail(img.Get("detail").String())
	return nil
}

func marshalParts(parts []ContentPart) ([]byte, error) {
	if len(parts) == 1 {
		if text, ok := parts[0].(TextPart); ok {
			return json.Marshal(text.Text)
		}
	}
	return json.Marshal(parts)
}

func unmarshalParts(content gjson.Result) ([]ContentPart, error) {
	switch {
	case !content.Exists() || content.Type == gjson.Null:
		return nil, nil
	case content.Type == gjson.String:
		return []ContentPart{Text(content.String())}, nil
	case !content.IsArray():
		return nil, fmt.Errorf("content must be a string or an array, got %s", content.Type)
	}

	items := content.Array()
	parts := make([]ContentPart, len(items))
	for idx, item := range items {
		switch tpe := item.Get("type").String(); tpe {
		case "text":
			var part TextPart
			if err := part.UnmarshalJSON([]byte(item.Raw)); err != nil {
				return nil, fmt.Errorf("invalid text part at %d: %w", idx, err)
			}
			parts[idx] = part
		case "image_url":
			var part ImagePart
			if err := part.UnmarshalJSON([]byte(item.Raw)); err != nil {
				return nil, fmt.Errorf("invalid image part at %d: %w", idx, err)
			}
			parts[idx] = part
		default:
			return nil, fmt.Errorf("content part at %d has an unknown type %q", idx, tpe)
		}
	}
	return parts, nil
}
