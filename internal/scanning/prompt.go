// Package scanning provides cloud vision models as fallback OCR engines.
package scanning

import (
	"strings"
)

// transcribePrompt is shared by every provider. The models are used for transcription
// only; field extraction stays in the local parser.
const transcribePrompt = `Transcribe all text on this receipt exactly as printed.
Keep the original line order and put each printed line on its own line.
Keep prices, dates, codes and punctuation as they appear. Do not translate, summarise,
correct or add anything. Output only the transcribed text, with no commentary or markdown.`

const systemPrompt = "You are an OCR engine for shop receipts. You reply with the receipt text only."

// cleanTranscript strips markdown fences some models wrap their answer in.
func cleanTranscript(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if i := strings.IndexByte(text, '\n'); i >= 0 && !strings.ContainsAny(text[:i], " \t") {
		// drop the language tag
		text = text[i+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
