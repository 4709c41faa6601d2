package store

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrWriteStatement is returned for SQL that modifies data or schema where only reads are allowed
var ErrWriteStatement = errors.New("only read-only queries are allowed")

var writeKeywords = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|MERGE|DROP|ALTER|CREATE|TRUNCATE|GRANT|REVOKE|REPLACE|COPY|ATTACH|DETACH)\b`)

// readVerbs are the statement openers accepted as reads
var readVerbs = map[string]bool{
	"SELECT":    true,
	"WITH":      true,
	"SHOW":      true,
	"DESCRIBE":  true,
	"DESC":      true,
	"EXPLAIN":   true,
	"VALUES":    true,
	"FROM":      true,
	"TABLE":     true,
	"SUMMARIZE": true,
}

// WriteViolations lists, uppercased and without duplicates, the write keywords
// in query and the openers of statements that are not reads. Comments and
// quoted text are ignored, and REPLACE( as a string function is allowed.
func WriteViolations(query string) []string {
	body := blankQuoted(StripComments(query))

	seen := map[string]bool{}
	var out []string
	add := func(w string) {
		w = strings.ToUpper(w)
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}

	for _, loc := range writeKeywords.FindAllStringIndex(body, -1) {
		word := body[loc[0]:loc[1]]
		if strings.EqualFold(word, "REPLACE") && strings.HasPrefix(strings.TrimLeft(body[loc[1]:], " \t\r\n"), "(") {
			continue
		}
		add(word)
	}

	for _, stmt := range strings.Split(body, ";") {
		fields := strings.Fields(strings.TrimLeft(strings.TrimSpace(stmt), "("))
		if len(fields) == 0 {
			continue
		}
		verb := strings.ToUpper(strings.TrimRight(fields[0], "("))
		if !readVerbs[verb] {
			add(verb)
		}
	}
	return out
}

// CheckReadOnly returns ErrWriteStatement, naming the offending keywords,
// when query is not a pure read
func CheckReadOnly(query string) error {
	if v := WriteViolations(query); len(v) > 0 {
		return fmt.Errorf("%w: found %s", ErrWriteStatement, strings.Join(v, ", "))
	}
	return nil
}

// blankQuoted replaces the contents of '...' and "..." with spaces
func blankQuoted(s string) string {
	b := []byte(s)
	var quote byte
	for i, c := range b {
		switch {
		case quote == 0 && (c == '\'' || c == '"'):
			quote = c
		case quote != 0 && c == quote:
			quote = 0
		case quote != 0:
			b[i] = ' '
		}
	}
	return string(b)
}
