package validation

import (
	"errors"
	"strconv"
	"strings"
	"unicode"
)

// ErrPlaceEmpty is returned when the place is empty or whitespace-only after trim.
var ErrPlaceEmpty = errors.New("place is required")

// ErrPlaceTooShort is returned when the place length is below the minimum.
var ErrPlaceTooShort = errors.New("place too short")

// ErrPlaceTooLong is returned when the place length exceeds the maximum.
var ErrPlaceTooLong = errors.New("place too long")

// ErrPlaceInvalidChars is returned when the place contains disallowed characters.
var ErrPlaceInvalidChars = errors.New("place contains invalid characters")

// ErrStationID is returned for an "@" key whose remainder is not a station number.
var ErrStationID = errors.New("invalid station id")

// ErrGeoPair is returned for a malformed geo coordinate pair.
var ErrGeoPair = errors.New("invalid geo pair")

// ValidatePlace trims the input, enforces rune length bounds, and checks
// it is a well-formed place key: a station id ("@<digits>"), a geo pair
// ("geo:<lat>;<lon>" or "<lat>,<lon>"), the "here" sentinel, or a
// free-text name. Returns the trimmed string or an error suitable for
// 400 INVALID_PLACE responses. Beyond the trim the input is never
// rewritten; case and punctuation reach the cache key untouched.
func ValidatePlace(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	n := len([]rune(s))
	if n == 0 {
		return "", ErrPlaceEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrPlaceTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrPlaceTooLong
	}

	if rest, ok := strings.CutPrefix(s, "@"); ok {
		if !allDigits(rest) {
			return "", ErrStationID
		}
		return s, nil
	}

	if rest, ok := strings.CutPrefix(s, "geo:"); ok {
		lat, lon, found := strings.Cut(rest, ";")
		if !found || !isFloat(lat) || !isFloat(lon) {
			return "", ErrGeoPair
		}
		return s, nil
	}

	if lat, lon, found := strings.Cut(s, ","); found && isFloat(lat) && isFloat(lon) {
		return s, nil
	}

	for _, c := range s {
		if !isAllowedPlaceRune(c) {
			return "", ErrPlaceInvalidChars
		}
	}
	return s, nil
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func isFloat(s string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return err == nil
}

// isAllowedPlaceRune returns true for letters (Unicode), digits, space,
// comma, hyphen, period, apostrophe, and slash (hierarchical station paths).
func isAllowedPlaceRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'', '/':
		return true
	}
	return false
}
