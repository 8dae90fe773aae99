// Package search implements the query grammar and execution engine behind the
// /v3/search and /v3/autocomplete endpoints.
package search

import "strings"

// Query is the parsed form of a raw search string. Tags and Authors are
// deduplicated case-insensitively; Text is the remaining free-text terms
// rejoined with single spaces.
type Query struct {
	Text    string
	Tags    []string
	Authors []string
}

// HasClauses reports whether the query carries tag or author clauses, which
// force the client-side filter path during execution.
func (q Query) HasClauses() bool {
	return len(q.Tags) > 0 || len(q.Authors) > 0
}

// ParseQuery scans the raw query left to right. A token starting with "tag:"
// or "author:" (any case) becomes a clause; its value is either double-quoted
// (an unterminated quote reads to end of string) or runs to the next
// whitespace. Everything else is free text.
func ParseQuery(raw string) Query {
	var q Query
	var terms []string
	tagSeen := map[string]bool{}
	authorSeen := map[string]bool{}

	pos := 0
	for pos < len(raw) {
		pos = skipWhitespace(raw, pos)
		if pos >= len(raw) {
			break
		}

		switch {
		case hasFoldPrefix(raw[pos:], "tag:"):
			value, next := readValue(raw, skipWhitespace(raw, pos+len("tag:")))
			pos = next
			if value == "" {
				continue
			}
			if key := strings.ToLower(value); !tagSeen[key] {
				tagSeen[key] = true
				q.Tags = append(q.Tags, value)
			}
		case hasFoldPrefix(raw[pos:], "author:"):
			value, next := readValue(raw, skipWhitespace(raw, pos+len("author:")))
			pos = next
			if value == "" {
				continue
			}
			if key := strings.ToLower(value); !authorSeen[key] {
				authorSeen[key] = true
				q.Authors = append(q.Authors, value)
			}
		default:
			value, next := readValue(raw, pos)
			pos = next
			if value != "" {
				terms = append(terms, value)
			}
		}
	}

	q.Text = strings.Join(terms, " ")
	return q
}

func skipWhitespace(s string, pos int) int {
	for pos < len(s) && (s[pos] == ' ' || s[pos] == '\t' || s[pos] == '\n' || s[pos] == '\r') {
		pos++
	}
	return pos
}

func hasFoldPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// readValue reads one quoted or whitespace-delimited value starting at pos
// and returns it with the position after it.
func readValue(s string, pos int) (string, int) {
	if pos >= len(s) {
		return "", pos
	}

	if s[pos] == '"' {
		end := strings.IndexByte(s[pos+1:], '"')
		if end < 0 {
			return s[pos+1:], len(s)
		}
		return s[pos+1 : pos+1+end], pos + end + 2
	}

	end := pos
	for end < len(s) && s[end] != ' ' && s[end] != '\t' && s[end] != '\n' && s[end] != '\r' {
		end++
	}
	return s[pos:end], end
}
