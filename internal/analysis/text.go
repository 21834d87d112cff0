package analysis

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// TextAnalysis holds descriptive counts of a text.
type TextAnalysis struct {
	WordCount              int `json:"word_count"`
	CharacterCount         int `json:"character_count"`
	CharacterCountNoSpaces int `json:"character_count_no_spaces"`
	SentenceCount          int `json:"sentence_count"`
	ParagraphCount         int `json:"paragraph_count"`
}

// Text counts words, characters, sentences and paragraphs. Characters are
// Unicode code points.
func Text(text string) TextAnalysis {
	res := TextAnalysis{
		WordCount:      len(strings.Fields(text)),
		CharacterCount: utf8.RuneCountInString(text),
		SentenceCount:  countSentences(text),
		ParagraphCount: countParagraphs(text),
	}
	for _, r := range text {
		if !unicode.IsSpace(r) {
			res.CharacterCountNoSpaces++
		}
	}
	return res
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// countSentences counts non-blank segments between terminators, so "Wait..."
// is one sentence and trailing text without a terminator still counts.
func countSentences(text string) int {
	n := 0
	for _, seg := range strings.FieldsFunc(text, isTerminator) {
		if strings.TrimSpace(seg) != "" {
			n++
		}
	}
	return n
}

// countParagraphs counts blocks of non-blank lines separated by blank lines.
func countParagraphs(text string) int {
	n := 0
	inBlock := false
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			inBlock = false
			continue
		}
		if !inBlock {
			n++
			inBlock = true
		}
	}
	return n
}
