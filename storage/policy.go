package storage

import (
	"errors"
	"strings"
)

var (
	ErrEmptyQuery  = errors.New("query must not be empty")
	ErrNotReadOnly = errors.New("only SELECT or WITH statements are allowed")
)

// CheckQuery applies the dataset's policy to a statement before execution.
func (d *Dataset) CheckQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return ErrEmptyQuery
	}
	if d.policy != PolicyLexical {
		return nil
	}
	return checkReadOnly(query)
}

func checkReadOnly(query string) error {
	body := strings.TrimSpace(stripLeadingComments(query))
	if hasSeparator(body) {
		return ErrNotReadOnly
	}

	keyword := strings.ToUpper(firstWord(body))
	switch keyword {
	case "SELECT", "WITH":
		return nil
	}
	return ErrNotReadOnly
}

func stripLeadingComments(s string) string {
	for {
		s = strings.TrimSpace(s)
		switch {
		case strings.HasPrefix(s, "--"):
			idx := strings.IndexByte(s, '\n')
			if idx == -1 {
				return ""
			}
			s = s[idx+1:]
		case strings.HasPrefix(s, "/*"):
			idx := strings.Index(s, "*/")
			if idx == -1 {
				return ""
			}
			s = s[idx+2:]
		default:
			return s
		}
	}
}

func firstWord(s string) string {
	end := strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
	})
	if end == -1 {
		return s
	}
	return s[:end]
}

// hasSeparator reports a ';' outside quoted text, identifiers and comments
// that is followed by another statement. Trailing terminators are fine.
func hasSeparator(s string) bool {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\'' || c == '"' || c == '`':
			i = skipPast(s, i+1, string(c))
		case c == '[':
			i = skipPast(s, i+1, "]")
		case strings.HasPrefix(s[i:], "--"):
			i = skipPast(s, i+2, "\n")
		case strings.HasPrefix(s[i:], "/*"):
			i = skipPast(s, i+2, "*/")
		case c == ';':
			return stripTerminators(s[i+1:]) != ""
		}
	}
	return false
}

// stripTerminators drops leading comments, whitespace and empty statements.
func stripTerminators(s string) string {
	for {
		s = stripLeadingComments(s)
		t := strings.TrimLeft(s, ";")
		if t == s {
			return s
		}
		s = t
	}
}

// skipPast returns the index of the last byte of the first end found at or
// after from, or the end of s when there is none.
func skipPast(s string, from int, end string) int {
	idx := strings.Index(s[from:], end)
	if idx == -1 {
		return len(s)
	}
	return from + idx + len(end) - 1
}
