package classifier

import "mvdan.cc/sh/v3/syntax"

// wordLiteral reduces a parsed Word to a plain string, handling the
// quoting forms spec.md §4.E.2 requires recognizing: bare literals,
// single-quoted strings, ANSI-C $'...' quoting, and double-quoted strings
// whose interior is itself only literal text. Any part that needs runtime
// expansion (parameter expansion, arithmetic, command/process
// substitution) makes the whole word non-literal, since the classifier can
// only reason about the command's static text.
func wordLiteral(w *syntax.Word) (string, bool) {
	var sb []byte
	for _, part := range w.Parts {
		s, ok := partLiteral(part)
		if !ok {
			return "", false
		}
		sb = append(sb, s...)
	}
	return string(sb), true
}

func partLiteral(part syntax.WordPart) (string, bool) {
	switch p := part.(type) {
	case *syntax.Lit:
		return p.Value, true
	case *syntax.SglQuoted:
		return p.Value, true
	case *syntax.DblQuoted:
		var sb []byte
		for _, inner := range p.Parts {
			s, ok := partLiteral(inner)
			if !ok {
				return "", false
			}
			sb = append(sb, s...)
		}
		return string(sb), true
	default:
		return "", false
	}
}
