// Package ingestion holds the pieces of the chunking pipeline
// that the retrieval core still has a use for. The chunking pipeline
// itself is ingestion's job and out of scope here; this
// package keeps only the sentence-boundary heuristic, repurposed by the
// Answerability Guardrail to produce "did you mean" suggestions from the
// first sentence of near-miss results.
package ingestion

import (
	"strings"
	"unicode"
)

// commonAbbreviations lists trailing tokens that should not be treated as
// sentence boundaries even though they end in a period.
var commonAbbreviations = []string{
	"mr.", "mrs.", "ms.", "dr.", "prof.",
	"inc.", "ltd.", "corp.",
	"etc.", "e.g.", "i.e.",
	"vs.", "v.",
	"st.", "ave.", "blvd.",
	"no.", "vol.", "pg.",
}

func endsWithAbbreviation(sentence string) bool {
	lower := strings.ToLower(sentence)
	for _, abbr := range commonAbbreviations {
		if strings.HasSuffix(lower, abbr) {
			return true
		}
	}
	return false
}

// SplitSentences splits text on '.', '!', or '?' followed by whitespace or
// end-of-string, skipping boundaries that look like a common abbreviation.
// This is a simplified heuristic, not full NLP sentence segmentation.
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		sentence := strings.TrimSpace(current.String())
		if sentence != "" && !endsWithAbbreviation(sentence) {
			sentences = append(sentences, sentence)
			current.Reset()
		}
	}

	if remaining := strings.TrimSpace(current.String()); remaining != "" {
		sentences = append(sentences, remaining)
	}

	return sentences
}

// FirstSentence returns the first sentence of text, or text itself
// (trimmed) if no sentence boundary is found.
func FirstSentence(text string) string {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return strings.TrimSpace(text)
	}
	return sentences[0]
}
