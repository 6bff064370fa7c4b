// Package tesseract adapts gosseract to the ocr session capabilities.
package tesseract

import (
	"context"
	"fmt"
	"sort"

	"github.com/otiai10/gosseract/v2"

	"github.com/zombor/receipt-scanner/internal/ocr"
)

// Client wraps a gosseract client. It is not safe for concurrent use; drive it through
// an ocr.Session.
type Client struct {
	client *gosseract.Client
}

// New returns a client. The engine itself starts on the first recognition.
func New() *Client {
	return &Client{client: gosseract.NewClient()}
}

// Initialize selects the trained language.
func (c *Client) Initialize(_ context.Context, lang string) error {
	return c.client.SetLanguage(lang)
}

// Configure sets engine variables.
func (c *Client) Configure(params map[string]string) error {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := c.client.SetVariable(gosseract.SettableVariable(k), params[k]); err != nil {
			return fmt.Errorf("setting %s: %w", k, err)
		}
	}
	return c.client.SetPageSegMode(gosseract.PSM_AUTO)
}

// Recognize returns the page text and the mean word confidence.
func (c *Client) Recognize(_ context.Context, img []byte) (ocr.Recognition, error) {
	if err := c.client.SetImageFromBytes(img); err != nil {
		return ocr.Recognition{}, fmt.Errorf("loading image: %w", err)
	}

	text, err := c.client.Text()
	if err != nil {
		return ocr.Recognition{}, fmt.Errorf("recognizing text: %w", err)
	}

	boxes, err := c.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return ocr.Recognition{Text: text}, nil
	}
	return ocr.Recognition{Text: text, Confidence: meanConfidence(boxes)}, nil
}

// Close frees the engine.
func (c *Client) Close() error {
	return c.client.Close()
}

func meanConfidence(boxes []gosseract.BoundingBox) float64 {
	var sum float64
	n := 0
	for _, b := range boxes {
		if b.Word == "" {
			continue
		}
		sum += b.Confidence
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
