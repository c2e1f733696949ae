package storageserver

import "strings"

// Sentence is an ordered run of words plus the delimiter that sealed it.
// Delim is '.', '?', '!', or 0 for an unsealed trailing sentence.
type Sentence struct {
	Words []string
	Delim byte
}

// Sealed reports whether the sentence carries a terminating delimiter.
func (s Sentence) Sealed() bool {
	return s.Delim != 0
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' ||
		c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' ||
		c == '_' || c == '-' || c == '\''
}

func isDelim(c byte) bool {
	return c == '.' || c == '?' || c == '!'
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// Tokenize scans text into sentences. A word is a maximal run of
// letters, digits, underscore, hyphen, or apostrophe; a delimiter seals
// the current sentence only if it holds words; every other byte is a
// separator and is dropped. Trailing words form an unsealed sentence.
func Tokenize(text string) []Sentence {
	var sents []Sentence
	var cur Sentence
	var word strings.Builder

	flush := func() {
		if word.Len() > 0 {
			cur.Words = append(cur.Words, word.String())
			word.Reset()
		}
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case isWordChar(c):
			word.WriteByte(c)
		case isDelim(c):
			flush()
			if len(cur.Words) > 0 {
				cur.Delim = c
				sents = append(sents, cur)
				cur = Sentence{}
			}
		default:
			flush()
		}
	}
	flush()
	if len(cur.Words) > 0 {
		sents = append(sents, cur)
	}
	return sents
}

// Rebuild is the inverse of Tokenize up to whitespace collapsing: words
// joined by single spaces, each delimiter appended directly to its last
// word.
func Rebuild(sents []Sentence) string {
	var b strings.Builder
	first := true
	for _, s := range sents {
		for _, w := range s.Words {
			if !first {
				b.WriteByte(' ')
			}
			b.WriteString(w)
			first = false
		}
		if s.Delim != 0 {
			b.WriteByte(s.Delim)
		}
	}
	return b.String()
}

// parseEdit splits edit content into the tokens inserted before any
// delimiter, the delimiter itself (0 if none), and the raw remainder
// after it. Unlike Tokenize, any byte that is neither whitespace nor a
// delimiter is token material.
func parseEdit(content string) (tokens []string, delim byte, rest string) {
	var word strings.Builder
	flush := func() {
		if word.Len() > 0 {
			tokens = append(tokens, word.String())
			word.Reset()
		}
	}
	for i := 0; i < len(content); i++ {
		c := content[i]
		switch {
		case isSpace(c):
			flush()
		case isDelim(c):
			flush()
			return tokens, c, content[i+1:]
		default:
			word.WriteByte(c)
		}
	}
	flush()
	return tokens, 0, ""
}

// parseRemainder tokenizes the text following an edit delimiter into
// one new sentence. A second delimiter seals it and everything after is
// dropped.
func parseRemainder(rest string) Sentence {
	var s Sentence
	var word strings.Builder
	flush := func() {
		if word.Len() > 0 {
			s.Words = append(s.Words, word.String())
			word.Reset()
		}
	}
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		switch {
		case isSpace(c):
			flush()
		case isDelim(c):
			flush()
			s.Delim = c
			return s
		default:
			word.WriteByte(c)
		}
	}
	flush()
	return s
}

func wordCount(sents []Sentence) int {
	n := 0
	for _, s := range sents {
		n += len(s.Words)
	}
	return n
}
