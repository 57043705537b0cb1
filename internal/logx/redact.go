package logx

import (
	"fmt"
	"regexp"
)

var (
	packetDataPattern = regexp.MustCompile(`(?s)<PacketData>([A-Za-z0-9+/=]{16,})</PacketData>`)
	dataTagPattern    = regexp.MustCompile(`(?s)<Data[^>]*>([A-Za-z0-9+/=]{16,})</Data>`)
)

// RedactFrame rewrites inline base64 media bodies in a raw frame so logs at
// INFO never carry verbatim photo data; DEBUG may still log the result
// (the body itself is never recoverable from it).
func RedactFrame(raw string) string {
	raw = packetDataPattern.ReplaceAllStringFunc(raw, redactTag("PacketData"))
	raw = dataTagPattern.ReplaceAllStringFunc(raw, redactTag("Data"))
	return raw
}

func redactTag(tag string) func(string) string {
	closeTag := "</" + tag + ">"
	return func(match string) string {
		bodyStart := len(match) - len(closeTag)
		for bodyStart > 0 && match[bodyStart-1] != '>' {
			bodyStart--
		}
		body := match[bodyStart : len(match)-len(closeTag)]
		return match[:bodyStart] + fmt.Sprintf("[PHOTO BASE64, len=%d]", len(body)) + closeTag
	}
}

// MaskPhotoURLs collapses every URL after the first into a short marker, so
// a label listing many photo links doesn't flood the log line.
func MaskPhotoURLs(urls []string) string {
	if len(urls) == 0 {
		return ""
	}
	if len(urls) == 1 {
		return urls[0]
	}
	if len(urls) == 2 {
		return urls[0] + " [PHOTO_URL]"
	}
	return fmt.Sprintf("%s [PHOTO_URL] +%d more photos", urls[0], len(urls)-2)
}
