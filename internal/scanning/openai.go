package scanning

import (
	"context"
	"encoding/base64"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/zombor/receipt-scanner/internal/ocr"
)

// OpenAI transcribes receipts with an OpenAI vision model.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates an OpenAI engine. baseURL may point at any compatible API.
func NewOpenAI(apiKey, baseURL, modelName string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if modelName == "" {
		modelName = openai.GPT4oMini
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: modelName}, nil
}

// Recognize transcribes a PNG image. OpenAI reports no confidence.
func (o *OpenAI) Recognize(ctx context.Context, img []byte) (ocr.Recognition, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: transcribePrompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    "data:image/png;base64," + base64.StdEncoding.EncodeToString(img),
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
	})
	if err != nil {
		return ocr.Recognition{}, fmt.Errorf("creating chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return ocr.Recognition{}, fmt.Errorf("no response from openai")
	}
	return ocr.Recognition{Text: cleanTranscript(resp.Choices[0].Message.Content)}, nil
}
