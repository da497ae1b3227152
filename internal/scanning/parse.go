package scanning

import (
	"strings"
)

// transcriptionPrompt asks a vision model for a plain OCR transcription so the same
// field extraction runs regardless of the engine
const transcriptionPrompt = `Transcribe every line of text printed on this receipt image.
Preserve the original line breaks and the order of the lines from top to bottom.
Copy prices exactly as printed, including the euro sign and decimal point.
Do not summarize, translate, correct or add commentary.
Return ONLY the transcribed text.`

// cleanTranscript strips markdown code fences a model may wrap around its transcription
func cleanTranscript(text string) string {
	text = strings.TrimSpace(text)

	// Remove opening markdown code blocks
	if strings.HasPrefix(text, "```") {
		if nl := strings.Index(text, "\n"); nl != -1 {
			text = text[nl+1:]
		} else {
			text = strings.TrimPrefix(text, "```")
		}
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")

	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t\r")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
