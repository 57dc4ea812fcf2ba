package channel

import (
	"strings"
	"unicode/utf8"
)

// splitMessage splits a message into chunks of at most maxLen bytes, preferring
// newline boundaries and never cutting a UTF-8 sequence in half.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}

		cut := maxLen
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		if idx := strings.LastIndex(msg[:cut], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}
		if cut == 0 {
			cut = maxLen
		}

		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}

// ApprovalResolver is the part of approval.Remote the chat channels need.
type ApprovalResolver interface {
	Resolve(requestID string, approved bool, userID string) bool
}
