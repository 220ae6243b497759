package instagram

import (
	"strings"
	"unicode"
)

const (
	maxHashtagLength = 150
	maxMentionLength = 30
)

// ExtractHashtags returns the hashtags in a caption, lowercased and
// in order of appearance. Duplicates are preserved.
func ExtractHashtags(text string) []string {
	var tags []string

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '#' {
			continue
		}

		j := i + 1
		for j < len(runes) && isHashtagRune(runes[j]) && j-i-1 < maxHashtagLength {
			j++
		}
		if j > i+1 {
			tags = append(tags, strings.ToLower(string(runes[i+1:j])))
		}
		i = j - 1
	}

	return tags
}

// ExtractMentions returns the @-mentions in a caption, lowercased and
// in order of appearance. A mention must not directly follow a word
// character, which keeps email addresses out.
func ExtractMentions(text string) []string {
	var mentions []string

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '@' {
			continue
		}
		if i > 0 && isWordRune(runes[i-1]) {
			continue
		}

		j := i + 1
		for j < len(runes) && isMentionRune(runes[j]) && j-i-1 < maxMentionLength {
			j++
		}

		// Usernames never end with a dot
		for j > i+1 && runes[j-1] == '.' {
			j--
		}

		if j > i+1 {
			mentions = append(mentions, strings.ToLower(string(runes[i+1:j])))
		}
		i = j - 1
	}

	return mentions
}

// isHashtagRune reports whether a rune may appear in a hashtag
func isHashtagRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// isMentionRune reports whether a rune may appear in a username
func isMentionRune(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') ||
		r == '_' || r == '.'
}

// isWordRune reports whether a rune counts as part of a word for the
// mention boundary check
func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
