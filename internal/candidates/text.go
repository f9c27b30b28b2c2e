package candidates

import "strings"

// normalize lowercases a string and folds punctuation into spaces so phrase
// matching can work on word boundaries.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// containsPhrase reports whether phrase appears in q on word boundaries.
// Both arguments must already be normalized.
func containsPhrase(q, phrase string) bool {
	if phrase == "" {
		return false
	}
	return strings.Contains(" "+q+" ", " "+phrase+" ")
}

// pluralize returns the plural form of the last word of a phrase:
// "county" → "counties", "parish" → "parishes", "region" → "regions".
func pluralize(phrase string) string {
	words := strings.Fields(phrase)
	if len(words) == 0 {
		return phrase
	}
	last := words[len(words)-1]
	switch {
	case strings.HasSuffix(last, "y") && len(last) > 1 && !isVowel(last[len(last)-2]):
		last = last[:len(last)-1] + "ies"
	case strings.HasSuffix(last, "s"), strings.HasSuffix(last, "x"),
		strings.HasSuffix(last, "ch"), strings.HasSuffix(last, "sh"):
		last += "es"
	default:
		last += "s"
	}
	words[len(words)-1] = last
	return strings.Join(words, " ")
}

func isVowel(b byte) bool {
	switch b {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}

// longestCommonSubstring returns the longest contiguous substring shared by
// a and b. Used to grade partial source-name matches.
func longestCommonSubstring(a, b string) string {
	if len(a) == 0 || len(b) == 0 {
		return ""
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	best, bestEnd := 0, 0
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
				if curr[j] > best {
					best = curr[j]
					bestEnd = i
				}
			} else {
				curr[j] = 0
			}
		}
		prev, curr = curr, prev
	}
	return a[bestEnd-best : bestEnd]
}
