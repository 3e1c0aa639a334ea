package plate

import (
	"errors"
	"regexp"
	"strings"
)

// regionMarker prefixes every valid plate. OCR output often carries garbage
// around the plate text, so normalization scans for the marker instead of
// anchoring at position zero.
const regionMarker = "RA"

const plateLength = 7

var plateShape = regexp.MustCompile(`^[A-Z]{3}[0-9]{3}[A-Z]$`)

// ErrInvalid reports a candidate that does not contain a well-formed plate.
var ErrInvalid = errors.New("plate: invalid candidate")

// Normalize extracts the 7-character plate (3 uppercase letters, 3 digits,
// 1 uppercase letter, beginning with the region marker) from a raw recognized
// string. Returns ErrInvalid when no well-formed plate is present.
func Normalize(raw string) (string, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), " ", "")
	idx := strings.Index(cleaned, regionMarker)
	if idx < 0 {
		return "", ErrInvalid
	}
	candidate := cleaned[idx:]
	if len(candidate) < plateLength {
		return "", ErrInvalid
	}
	candidate = candidate[:plateLength]
	if !plateShape.MatchString(candidate) {
		return "", ErrInvalid
	}
	return candidate, nil
}
