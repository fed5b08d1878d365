package service

import (
	"context"
	"fmt"
	"strings"

	"sigsummary/internal/constants"
	"sigsummary/internal/models"

	"github.com/dustin/go-humanize"
)

// NoActivityNotice is sent when a summary window holds no messages
const NoActivityNotice = "💬 No messages during this period."

// FormatSummary renders the message posted for a summary run
func FormatSummary(groupName string, hours int, messages []models.Message, text string) string {
	var b strings.Builder
	if groupName != "" {
		fmt.Fprintf(&b, "📊 Summary: %s\n", groupName)
	} else {
		b.WriteString("📊 Summary\n")
	}
	fmt.Fprintf(&b, "⏰ Last %d hours\n", hours)
	fmt.Fprintf(&b, "💬 Messages: %s\n", humanize.Comma(int64(len(messages))))
	fmt.Fprintf(&b, "👥 Participants: %d\n", countParticipants(messages))
	fmt.Fprintf(&b, "\n📝 Summary:\n%s", strings.TrimSpace(text))
	return b.String()
}

func countParticipants(messages []models.Message) int {
	seen := make(map[string]struct{}, len(messages))
	for _, m := range messages {
		seen[m.SenderID] = struct{}{}
	}
	return len(seen)
}

// SplitMessage breaks text into parts of at most maxLen characters. Splits
// prefer a paragraph break, then a newline, a sentence end, a space, and
// finally a hard cut, never cutting below half a part. Multi-part output is
// suffixed with " (i/n)".
func SplitMessage(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = constants.MaxSignalMessageLength
	}
	runes := []rune(text)
	if len(runes) <= maxLen {
		return []string{text}
	}

	effective := maxLen - 10
	if effective < 1 {
		effective = maxLen
	}
	half := effective / 2

	var parts []string
	remaining := runes
	for len(remaining) > 0 {
		if len(remaining) <= effective {
			parts = append(parts, string(remaining))
			break
		}
		chunk := string(remaining[:effective])
		pos := splitPoint(chunk, half)
		if pos < 0 {
			pos = effective
		}
		parts = append(parts, strings.TrimRight(string(remaining[:pos]), " \t\n"))
		remaining = []rune(strings.TrimLeft(string(remaining[pos:]), " \t\n"))
	}

	if len(parts) > 1 {
		for i := range parts {
			parts[i] = fmt.Sprintf("%s (%d/%d)", parts[i], i+1, len(parts))
		}
	}
	return parts
}

// splitPoint returns a rune offset into chunk to cut at, or -1
func splitPoint(chunk string, half int) int {
	ok := func(byteIdx int) (int, bool) {
		if byteIdx < 0 {
			return 0, false
		}
		n := len([]rune(chunk[:byteIdx]))
		return n, n >= half
	}

	if n, good := ok(strings.LastIndex(chunk, "\n\n")); good {
		return n
	}
	if n, good := ok(strings.LastIndex(chunk, "\n")); good {
		return n
	}
	for _, punct := range []string{". ", "! ", "? "} {
		if n, good := ok(strings.LastIndex(chunk, punct)); good && n > half {
			return n + 1
		}
	}
	if n, good := ok(strings.LastIndex(chunk, " ")); good {
		return n
	}
	return -1
}

// sendParts splits text and sends each part in order, stopping at the first
// failure. The transport paces consecutive sends.
func sendParts(ctx context.Context, transport Transport, groupID, text string) error {
	for _, part := range SplitMessage(text, constants.MaxSignalMessageLength) {
		if err := transport.Send(ctx, groupID, part); err != nil {
			return err
		}
	}
	return nil
}
