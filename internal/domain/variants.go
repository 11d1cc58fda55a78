package domain

import "strings"

// Variants expands a model identifier into the ordered set of normalized
// forms the matcher searches with, duplicates removed:
//
//  1. the lower-cased identifier verbatim
//  2. runs of non-alphanumeric characters collapsed to a single hyphen
//  3. the provider prefix before the last "/" stripped
//  4. the stripped form, hyphen-normalized
//
// The order matters: earlier forms are closer to what the caller reported.
func Variants(modelID string) []string {
	lowered := strings.ToLower(modelID)

	candidates := []string{
		lowered,
		hyphenNormalize(lowered),
	}

	if idx := strings.LastIndex(lowered, "/"); idx >= 0 {
		stripped := lowered[idx+1:]
		candidates = append(candidates, stripped, hyphenNormalize(stripped))
	}

	seen := make(map[string]struct{}, len(candidates))
	variants := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		variants = append(variants, c)
	}

	return variants
}

// hyphenNormalize collapses every run of non-alphanumeric characters into a
// single hyphen, so "claude 3.5@sonnet" and "claude-3-5-sonnet" compare equal.
func hyphenNormalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inRun := false
	for _, r := range s {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if alnum {
			b.WriteRune(r)
			inRun = false
			continue
		}
		if !inRun {
			b.WriteByte('-')
			inRun = true
		}
	}

	return b.String()
}
