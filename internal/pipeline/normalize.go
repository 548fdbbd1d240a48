// Copyright 2025 James Ross
package pipeline

import (
	"regexp"
	"strings"
)

var (
	crlf            = strings.NewReplacer("\r\n", "\n", "\r", "\n")
	whitespaceRun   = regexp.MustCompile(`[ \t]+`)
	blankLineRun    = regexp.MustCompile(`\n{3,}`)
	nbspRun         = regexp.MustCompile(`[\x{00A0}\x{2000}-\x{200A}]+`)
)

// Profile selects among equivalent-contract normalizer/chunker
// implementations. Both satisfy the same five-stage contract; they
// are not required to produce byte-identical output for identical
// input (an Open Question resolved in DESIGN.md).
type Profile string

const (
	ProfileAuto     Profile = "auto"
	ProfileLegacy   Profile = "legacy"
	ProfileAdvanced Profile = "advanced"
)

// resolveProfile applies the profile-selection rule: "advanced" is
// used for PDFs when semantic is off, or always if advanced, or never
// if legacy.
func resolveProfile(requested Profile, format string, includeSemantic bool) Profile {
	switch requested {
	case ProfileAdvanced:
		return ProfileAdvanced
	case ProfileLegacy:
		return ProfileLegacy
	default: // auto
		if format == "pdf" && !includeSemantic {
			return ProfileAdvanced
		}
		return ProfileLegacy
	}
}

// normalizeLegacy is the legacy-profile normalizer: collapse runs of
// intra-line whitespace, normalize line endings to \n, cap blank-line
// runs at two newlines. Idempotent: normalize(normalize(x)) == normalize(x).
func normalizeLegacy(text string) string {
	text = crlf.Replace(text)
	text = whitespaceRun.ReplaceAllString(text, " ")
	text = blankLineRun.ReplaceAllString(text, "\n\n")
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// normalizeAdvanced additionally collapses non-breaking and
// fixed-width unicode spaces into regular spaces before applying the
// same whitespace/line-ending rules as the legacy profile. Still
// idempotent.
func normalizeAdvanced(text string) string {
	text = nbspRun.ReplaceAllString(text, " ")
	return normalizeLegacy(text)
}

// Normalize dispatches to the profile's normalizer implementation.
func Normalize(profile Profile, text string) string {
	if profile == ProfileAdvanced {
		return normalizeAdvanced(text)
	}
	return normalizeLegacy(text)
}
