package summary

import (
	"regexp"

	"github.com/jdkato/prose/v2"
)

var sentenceBreak = regexp.MustCompile(`[.!?]+\s+`)

// splitSentences segments text with prose's sentence boundary detector and
// falls back to punctuation splitting if the document cannot be parsed.
func splitSentences(text string) []string {
	doc, err := prose.NewDocument(text,
		prose.WithTokenization(false),
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return sentenceBreak.Split(text, -1)
	}

	sents := doc.Sentences()
	out := make([]string, 0, len(sents))
	for _, s := range sents {
		out = append(out, s.Text)
	}
	return out
}
