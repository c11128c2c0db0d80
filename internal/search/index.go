// Package search provides a small, deterministic, concurrency-safe in-memory
// index built from Markdown paragraphs. It backs the local knowledge
// retriever when no remote retrieval endpoint is configured.
//
// Scoring uses Jaccard similarity between the query token set and each
// paragraph's token set: score = |Q ∩ P| / |Q ∪ P|. The index is immutable
// after construction and therefore safe for concurrent use. Ties sort by
// document order so results are stable.
package search

import (
	"os"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// Result is a ranked snippet with its similarity score.
type Result struct {
	Snippet string
	Score   float64
}

// Index is the minimal interface implemented by all search indices.
type Index interface {
	TopK(query string, k int) []Result
}

type doc struct {
	text   string
	tokens map[string]struct{}
}

type index struct {
	minParagraphRunes int
	docs              []doc
}

var tokenRE = regexp.MustCompile(`[\p{L}\p{N}]+`)

func tokenize(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, t := range tokenRE.FindAllString(strings.ToLower(s), -1) {
		out[t] = struct{}{}
	}
	return out
}

// NewFromMarkdown builds an index from a Markdown document, one entry per
// paragraph (blank-line separated). Paragraphs shorter than minRunes are
// skipped; pass 0 to keep everything.
func NewFromMarkdown(content string, minRunes int) Index {
	ix := &index{minParagraphRunes: minRunes}
	for _, p := range strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n\n") {
		p = strings.TrimSpace(p)
		if p == "" || utf8.RuneCountInString(p) < ix.minParagraphRunes {
			continue
		}
		toks := tokenize(p)
		if len(toks) == 0 {
			continue
		}
		ix.docs = append(ix.docs, doc{text: p, tokens: toks})
	}
	return ix
}

// NewFromFile builds an index from a Markdown file on disk.
func NewFromFile(path string, minRunes int) (Index, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewFromMarkdown(string(b), minRunes), nil
}

// TopK returns the k best-scoring paragraphs for the query. Zero-score
// paragraphs are excluded; fewer than k results may be returned.
func (ix *index) TopK(query string, k int) []Result {
	if k <= 0 {
		return nil
	}
	q := tokenize(query)
	if len(q) == 0 {
		return nil
	}

	type scored struct {
		pos   int
		score float64
	}
	cands := make([]scored, 0, len(ix.docs))
	for i, d := range ix.docs {
		inter := 0
		for t := range q {
			if _, ok := d.tokens[t]; ok {
				inter++
			}
		}
		if inter == 0 {
			continue
		}
		union := len(d.tokens) + len(q) - inter
		cands = append(cands, scored{pos: i, score: float64(inter) / float64(union)})
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].pos < cands[j].pos
	})

	if len(cands) > k {
		cands = cands[:k]
	}
	out := make([]Result, len(cands))
	for i, c := range cands {
		out[i] = Result{Snippet: ix.docs[c.pos].text, Score: c.score}
	}
	return out
}
