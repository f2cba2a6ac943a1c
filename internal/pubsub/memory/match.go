package memory

import (
	"fmt"
	"strings"
)

// subjectFilter is a parsed subscription pattern. "*" matches one token and
// a trailing ">" matches one or more.
type subjectFilter struct {
	tokens []string
	tail   bool
}

func parseFilter(pattern string) (subjectFilter, error) {
	tokens := strings.Split(pattern, ".")
	for i, tok := range tokens {
		switch {
		case tok == "":
			return subjectFilter{}, fmt.Errorf("%w: empty token in %q", ErrInvalidSubject, pattern)
		case tok == ">" && i != len(tokens)-1:
			return subjectFilter{}, fmt.Errorf("%w: %q has \">\" before the last token", ErrInvalidSubject, pattern)
		case tok != "*" && tok != ">" && strings.ContainsAny(tok, "*>"):
			return subjectFilter{}, fmt.Errorf("%w: %q mixes a wildcard into a token", ErrInvalidSubject, pattern)
		}
	}
	if tokens[len(tokens)-1] == ">" {
		return subjectFilter{tokens: tokens[:len(tokens)-1], tail: true}, nil
	}
	return subjectFilter{tokens: tokens}, nil
}

// checkSubject rejects subjects that cannot be published to.
func checkSubject(subject string) error {
	if subject == "" || strings.ContainsAny(subject, "*>") {
		return fmt.Errorf("%w: cannot publish to %q", ErrInvalidSubject, subject)
	}
	for _, tok := range strings.Split(subject, ".") {
		if tok == "" {
			return fmt.Errorf("%w: empty token in %q", ErrInvalidSubject, subject)
		}
	}
	return nil
}

// matches walks subject token by token without allocating.
func (f subjectFilter) matches(subject string) bool {
	rest, more := subject, true
	for _, want := range f.tokens {
		if !more {
			return false
		}
		var tok string
		tok, rest, more = strings.Cut(rest, ".")
		if want != "*" && want != tok {
			return false
		}
	}
	if f.tail {
		return more
	}
	return !more
}
