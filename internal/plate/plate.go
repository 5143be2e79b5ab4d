// Package plate reads license plate text from vehicle crops.
package plate

import (
	"errors"
	"unicode/utf8"

	"speedtrap-service/internal/utils"
)

var ErrNoPlate = errors.New("no plate recognized")

const (
	DefaultMinLength = 4
	DefaultMaxLength = 10
)

// Clean normalizes OCR output and rejects text whose length falls outside
// [minLen, maxLen]. It returns "" for rejected text.
func Clean(text string, minLen, maxLen int) string {
	if minLen <= 0 {
		minLen = DefaultMinLength
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}
	cleaned := utils.NormalizePlate(text)
	n := utf8.RuneCountInString(cleaned)
	if n < minLen || n > maxLen {
		return ""
	}
	return cleaned
}
