package imessage

import (
	"bytes"
	"strings"
	"unicode"
	"unicode/utf8"
)

// NormalizePhoneNumber normalizes phone numbers for consistent matching
// - Removes all non-digit chars
// - If 11 digits starting with 1, drops the leading 1 (US numbers)
//
// Every identifier comparison in the bridge goes through this (or
// NormalizeIdentifier) so that "+1 (310) 882-0189" and "3108820189"
// compare equal.
func NormalizePhoneNumber(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	if len(digits) == 11 && strings.HasPrefix(digits, "1") {
		return digits[1:]
	}
	return digits
}

// NormalizeIdentifier normalizes a phone/email identifier and returns
// its type ("phone" or "email").
func NormalizeIdentifier(identifier string) (normalized string, typ string) {
	id := strings.TrimSpace(identifier)
	if id == "" {
		return "", "phone"
	}
	if strings.Contains(id, "@") {
		return strings.ToLower(id), "email"
	}
	return NormalizePhoneNumber(id), "phone"
}

// LooksLikeIdentifier reports whether raw is plausibly a bare phone
// number or email rather than a contact name, so callers can skip
// fuzzy resolution.
func LooksLikeIdentifier(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	if strings.Contains(raw, "@") {
		return true
	}
	digits := 0
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' || r == '-' || r == ' ' || r == '(' || r == ')' || r == '.':
		default:
			return false
		}
	}
	return digits > 0
}

// DecodeMessageContent extracts human-readable text from a message
// row. Plain text wins when present; otherwise the attributedBody blob
// is decoded best-effort. Returns "" when nothing textual can be
// recovered; never fails.
func DecodeMessageContent(text string, attributedBody []byte) string {
	if t := strings.TrimSpace(text); t != "" {
		return text
	}
	return CleanMessageContent(DecodeAttributedBody(attributedBody))
}

var (
	nsStringMarker = []byte("NSString")
	nsDictMarker   = []byte("NSDictionary")
	nsNumberMarker = []byte("NSNumber")
)

// DecodeAttributedBody extracts the text run from an NSAttributedString
// typedstream blob. The string payload sits after the NSString class
// record as a length-prefixed run: one length byte, or 0x81 followed by
// a little-endian uint16 for longer strings. Blobs that don't parse
// fall back to marker slicing; anything still malformed yields "".
// This is a pragmatic extraction, not a full typedstream decoder.
func DecodeAttributedBody(attributedBody []byte) string {
	if len(attributedBody) == 0 {
		return ""
	}
	if s := decodeLengthPrefixed(attributedBody); s != "" {
		return s
	}
	return decodeMarkerSliced(attributedBody)
}

// decodeLengthPrefixed reads the length-prefixed string that follows
// the NSString class record.
func decodeLengthPrefixed(data []byte) string {
	idx := bytes.Index(data, nsStringMarker)
	if idx < 0 {
		return ""
	}
	// Skip the marker plus the 5 bytes of class-record framing that
	// precede the length prefix.
	pos := idx + len(nsStringMarker) + 5
	if pos >= len(data) {
		return ""
	}

	length := int(data[pos])
	pos++
	if length == 0x81 {
		if pos+2 > len(data) {
			return ""
		}
		length = int(data[pos]) | int(data[pos+1])<<8
		pos += 2
	}
	if length <= 0 || pos+length > len(data) {
		return ""
	}

	run := data[pos : pos+length]
	if !utf8.Valid(run) {
		return ""
	}
	return strings.TrimSpace(string(run))
}

// decodeMarkerSliced is the older extraction: take the region between
// the NSString and NSDictionary markers and trim the framing bytes.
func decodeMarkerSliced(data []byte) string {
	if !bytes.Contains(data, nsNumberMarker) {
		return ""
	}
	if idx := bytes.Index(data, nsNumberMarker); idx >= 0 {
		data = data[:idx]
	}

	idx := bytes.Index(data, nsStringMarker)
	if idx < 0 {
		return ""
	}
	data = data[idx+len(nsStringMarker):]

	idx = bytes.Index(data, nsDictMarker)
	if idx < 0 {
		return ""
	}
	data = data[:idx]

	runes := []rune(string(data))
	if len(runes) < 6+12 {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(string(runes[6 : len(runes)-12]))
}

// CleanMessageContent strips control and replacement characters left
// over from attachment placeholders.
func CleanMessageContent(content string) string {
	if content == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(content))
	for _, r := range content {
		if unicode.IsPrint(r) || r == ' ' || r == '\n' || r == '\t' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()

	cleaned = strings.ReplaceAll(cleaned, "￼", "") // object replacement char
	cleaned = strings.ReplaceAll(cleaned, "\x01", "")
	cleaned = strings.ReplaceAll(cleaned, "�", "") // replacement char

	cleaned = strings.TrimSpace(cleaned)
	cleaned = strings.Trim(cleaned, "\x00")
	return cleaned
}

// NormalizeSearchText lowercases and collapses whitespace for
// similarity comparison.
func NormalizeSearchText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
