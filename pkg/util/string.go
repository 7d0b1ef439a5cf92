package util

import (
	"regexp"
	"strings"
)

var slugPattern = regexp.MustCompile(`[^a-z0-9\p{Han}]+`) // Allow Chinese characters

// GenerateSlug creates a URL-friendly slug from title
func GenerateSlug(title string) string {
	slug := strings.ToLower(title)

	// Replace spaces and special characters with hyphens
	slug = slugPattern.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")

	// Limit length without splitting a multi-byte character
	if runes := []rune(slug); len(runes) > 50 {
		slug = strings.Trim(string(runes[:50]), "-")
	}

	return slug
}
