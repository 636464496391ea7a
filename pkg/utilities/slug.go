package utilities

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	slugStrip    = regexp.MustCompile(`[^\w\s\x{4e00}-\x{9fa5}-]`)
	slugSep      = regexp.MustCompile(`[\s_-]+`)
	slugValidRe  = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	maxSlugRunes = 200
)

// Slugify lowercases text, keeps ASCII word characters, CJK ideographs and hyphens,
// collapses separators into single hyphens and caps the result at 200 runes.
func Slugify(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = slugStrip.ReplaceAllString(s, "")
	s = slugSep.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if r := []rune(s); len(r) > maxSlugRunes {
		s = strings.TrimRight(string(r[:maxSlugRunes]), "-")
	}
	return s
}

// IsValidSlug reports whether s is a lowercase ASCII hyphenated slug.
func IsValidSlug(s string) bool { return slugValidRe.MatchString(s) }

// UniqueSlug derives a slug from text and appends -1, -2, ... until taken reports false.
// After 100 collisions it falls back to a millisecond timestamp suffix.
func UniqueSlug(ctx context.Context, text string, taken func(ctx context.Context, slug string) (bool, error)) (string, error) {
	base := Slugify(text)
	if base == "" {
		base = "item-" + strconv.FormatInt(time.Now().UnixMilli(), 10)
	}
	slug := base
	for i := 1; ; i++ {
		used, err := taken(ctx, slug)
		if err != nil {
			return "", err
		}
		if !used {
			return slug, nil
		}
		if i > 100 {
			return base + "-" + strconv.FormatInt(time.Now().UnixMilli(), 10), nil
		}
		slug = base + "-" + strconv.Itoa(i)
	}
}
