package diagram

import "strings"

// StripCodeFence removes markdown fence markers that models wrap around
// generated source and trims the result.
func StripCodeFence(text string) string {
	text = strings.ReplaceAll(text, "```mermaid", "")
	text = strings.ReplaceAll(text, "```", "")
	return strings.TrimSpace(text)
}
