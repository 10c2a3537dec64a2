package tokens

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ContentType selects the effective tokenization density for a piece of text.
type ContentType string

const (
	ContentProse     ContentType = "prose"
	ContentCode      ContentType = "code"
	ContentJSON      ContentType = "json"
	ContentMarkdown  ContentType = "markdown"
	ContentTechnical ContentType = "technical"
)

// contentFactors captures how much denser each content type tokenizes
// compared to plain prose at the same character count.
var contentFactors = map[ContentType]float64{
	ContentProse:     1.0,
	ContentMarkdown:  1.05,
	ContentTechnical: 1.1,
	ContentCode:      1.15,
	ContentJSON:      1.2,
}

// modelFactors adjusts estimates per model family. Families not listed
// use 1.0.
var modelFactors = map[string]float64{
	"gpt":    1.0,
	"claude": 1.05,
	"gemini": 0.95,
	"llama":  1.1,
}

// Config tunes the estimator. Zero values fall back to defaults.
type Config struct {
	CharsPerToken float64 // default 4.0
	ModelFamily   string  // e.g. "gpt", "claude"; empty means generic
}

// Estimator approximates token counts from characters and text structure.
// All methods are pure and safe for concurrent use.
type Estimator struct {
	charsPerToken float64
	modelFactor   float64
}

// NewEstimator creates an estimator with the given config.
func NewEstimator(cfg Config) *Estimator {
	cpt := cfg.CharsPerToken
	if cpt <= 0 {
		cpt = 4.0
	}
	mf, ok := modelFactors[strings.ToLower(cfg.ModelFamily)]
	if !ok {
		mf = 1.0
	}
	return &Estimator{charsPerToken: cpt, modelFactor: mf}
}

// Count returns an approximate token count for text of the given content
// type. The base chars/4 ratio under-counts punctuation runs, numeric runs,
// code fences and URLs, so each adds a positive correction before the
// content-type and model-family factors are applied. Corrections are all
// non-decreasing in the input, keeping the estimate monotonic.
func (e *Estimator) Count(text string, contentType ContentType) int {
	if len(text) == 0 {
		return 0
	}

	base := float64(len(text)) / e.charsPerToken
	base += float64(punctuationRunChars(text)) / 2
	base += float64(digitChars(text)) / 3
	base += float64(strings.Count(text, "```")) * 3
	base += float64(strings.Count(text, "http://")+strings.Count(text, "https://")) * 5

	factor := contentFactors[contentType]
	if factor == 0 {
		factor = 1.0
	}

	n := int(base * factor * e.modelFactor)
	if n < 1 {
		n = 1
	}
	return n
}

// FitsInBudget reports whether text fits within budget tokens.
func (e *Estimator) FitsInBudget(text string, contentType ContentType, budget int) bool {
	return e.Count(text, contentType) <= budget
}

// EstimateCapacity is the inverse mapping: how many characters of the given
// content type roughly fit in tokenBudget tokens. Structural corrections are
// ignored on this path, so the result slightly over-estimates for
// punctuation-heavy text; callers re-check with Count after cutting.
func (e *Estimator) EstimateCapacity(tokenBudget int, contentType ContentType) int {
	if tokenBudget <= 0 {
		return 0
	}
	factor := contentFactors[contentType]
	if factor == 0 {
		factor = 1.0
	}
	return int(float64(tokenBudget) * e.charsPerToken / (factor * e.modelFactor))
}

// SplitToFit divides text into chunks that each fit in chunkBudget tokens,
// preferring paragraph boundaries. overlapTokens, when positive, repeats the
// tail of each chunk at the head of the next for continuity.
func (e *Estimator) SplitToFit(text string, contentType ContentType, chunkBudget, overlapTokens int) []string {
	if text == "" {
		return nil
	}
	if e.FitsInBudget(text, contentType, chunkBudget) {
		return []string{text}
	}

	capacity := e.EstimateCapacity(chunkBudget, contentType)
	if capacity < 1 {
		capacity = 1
	}
	overlapChars := 0
	if overlapTokens > 0 {
		overlapChars = e.EstimateCapacity(overlapTokens, contentType)
	}

	// First pass: pack paragraphs into capacity-sized chunks.
	paragraphs := strings.Split(text, "\n\n")
	var chunks []string
	var current strings.Builder
	for _, para := range paragraphs {
		// Paragraphs larger than a whole chunk get hard-split.
		for len(para) > capacity {
			if current.Len() > 0 {
				chunks = append(chunks, current.String())
				current.Reset()
			}
			cut := RuneSafe(para, capacity)
			if cut == 0 {
				// Capacity landed inside the first rune; keep it whole.
				_, size := utf8.DecodeRuneInString(para)
				cut = size
			}
			chunks = append(chunks, para[:cut])
			para = para[cut:]
		}
		if current.Len() > 0 && current.Len()+len(para)+2 > capacity {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}

	if overlapChars == 0 || len(chunks) < 2 {
		return chunks
	}

	// Second pass: prepend the tail of each chunk to its successor.
	out := make([]string, len(chunks))
	out[0] = chunks[0]
	for i := 1; i < len(chunks); i++ {
		tail := chunks[i-1]
		if len(tail) > overlapChars {
			tail = tail[RuneSafe(tail, len(tail)-overlapChars):]
		}
		out[i] = tail + "\n\n" + chunks[i]
	}
	return out
}

// RuneSafe backs a byte index off to the nearest rune start so slicing at
// the returned index never splits a multi-byte character.
func RuneSafe(s string, i int) int {
	if i <= 0 {
		return 0
	}
	if i >= len(s) {
		return len(s)
	}
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

// punctuationRunChars counts characters that are part of runs of 3+
// consecutive punctuation/symbol characters.
func punctuationRunChars(text string) int {
	total := 0
	run := 0
	for _, r := range text {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			run++
			continue
		}
		if run >= 3 {
			total += run
		}
		run = 0
	}
	if run >= 3 {
		total += run
	}
	return total
}

// digitChars counts numeric characters.
func digitChars(text string) int {
	n := 0
	for _, r := range text {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}
