// Package tokenizer turns text into the padded id batches the base model
// consumes. It implements WordPiece: whole words first, then the longest
// known prefix followed by "##" continuation pieces.
package tokenizer

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// ContinuationPrefix marks a piece that continues the previous one.
const ContinuationPrefix = "##"

// Options configures a Tokenizer.
type Options struct {
	UnkToken string
	PadToken string
	ClsToken string
	SepToken string

	// ModelMaxLength bounds every encoding, special tokens included.
	// Longer inputs are truncated on the right. 0 means no limit.
	ModelMaxLength int

	LowerCase    bool
	StripAccents bool
}

// NewDefaultOptions returns BERT-style uncased options.
func NewDefaultOptions() Options {
	return Options{
		UnkToken:     "[UNK]",
		PadToken:     "[PAD]",
		ClsToken:     "[CLS]",
		SepToken:     "[SEP]",
		LowerCase:    true,
		StripAccents: true,
	}
}

func (o Options) specials() []string {
	return []string{o.PadToken, o.UnkToken, o.ClsToken, o.SepToken}
}

// Tokenizer is a WordPiece tokenizer over a fixed vocabulary.
type Tokenizer struct {
	opts  Options
	vocab map[string]int
	ids   []string

	pad, unk, cls, sep int
}

// New builds a tokenizer from an ordered vocabulary; a token's id is its
// index. Special tokens missing from vocab are appended.
func New(vocab []string, opts Options) (*Tokenizer, error) {
	t := &Tokenizer{opts: opts, vocab: make(map[string]int, len(vocab)+4)}
	for _, tok := range vocab {
		if tok == "" {
			return nil, fmt.Errorf("empty token at id %d", len(t.ids))
		}
		if _, dup := t.vocab[tok]; dup {
			return nil, fmt.Errorf("duplicate token %q", tok)
		}
		t.vocab[tok] = len(t.ids)
		t.ids = append(t.ids, tok)
	}
	for _, tok := range opts.specials() {
		if tok == "" {
			return nil, fmt.Errorf("special tokens must be non-empty")
		}
		if _, ok := t.vocab[tok]; !ok {
			t.vocab[tok] = len(t.ids)
			t.ids = append(t.ids, tok)
		}
	}
	t.pad, t.unk = t.vocab[opts.PadToken], t.vocab[opts.UnkToken]
	t.cls, t.sep = t.vocab[opts.ClsToken], t.vocab[opts.SepToken]
	if opts.ModelMaxLength != 0 && opts.ModelMaxLength < 3 {
		return nil, fmt.Errorf("model max length must be 0 or at least 3, got %d", opts.ModelMaxLength)
	}
	return t, nil
}

// BuildVocabulary derives a vocabulary of at most vocabSize entries from
// texts: special tokens, then every character as a word start and as a
// continuation, then whole words by descending frequency.
func BuildVocabulary(texts []string, vocabSize int, opts Options) (*Tokenizer, error) {
	probe := &Tokenizer{opts: opts}
	words := make(map[string]int)
	chars := make(map[string]bool)
	for _, text := range texts {
		for _, w := range strings.Fields(probe.Normalize(text)) {
			words[w]++
			for _, r := range w {
				chars[string(r)] = true
			}
		}
	}

	vocab := opts.specials()
	for _, c := range sortedKeys(chars) {
		vocab = append(vocab, c, ContinuationPrefix+c)
	}
	if len(vocab) > vocabSize {
		return nil, fmt.Errorf("vocab size %d cannot hold %d special and character tokens", vocabSize, len(vocab))
	}

	type wordCount struct {
		word  string
		count int
	}
	counts := make([]wordCount, 0, len(words))
	for w, n := range words {
		if len([]rune(w)) > 1 {
			counts = append(counts, wordCount{w, n})
		}
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].count != counts[j].count {
			return counts[i].count > counts[j].count
		}
		return counts[i].word < counts[j].word
	})
	for _, wc := range counts {
		if len(vocab) >= vocabSize {
			break
		}
		vocab = append(vocab, wc.word)
	}
	return New(vocab, opts)
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// VocabSize returns the number of ids the tokenizer can emit.
func (t *Tokenizer) VocabSize() int { return len(t.ids) }

// PadID returns the id used for padding.
func (t *Tokenizer) PadID() int { return t.pad }

// Normalize lowercases, strips accents and collapses whitespace as configured.
func (t *Tokenizer) Normalize(text string) string {
	if t.opts.LowerCase {
		text = strings.ToLower(text)
	}
	if t.opts.StripAccents {
		var b strings.Builder
		for _, r := range norm.NFD.String(text) {
			if !unicode.Is(unicode.Mn, r) {
				b.WriteRune(r)
			}
		}
		text = b.String()
	}
	return strings.Join(strings.Fields(text), " ")
}

// Tokenize splits text into WordPiece tokens. A word that cannot be
// covered by known pieces becomes a single unknown token.
func (t *Tokenizer) Tokenize(text string) []string {
	var tokens []string
	for _, word := range strings.Fields(t.Normalize(text)) {
		tokens = append(tokens, t.wordpiece(word)...)
	}
	return tokens
}

func (t *Tokenizer) wordpiece(word string) []string {
	if _, ok := t.vocab[word]; ok {
		return []string{word}
	}
	runes := []rune(word)
	var pieces []string
	for start := 0; start < len(runes); {
		end := len(runes)
		piece := ""
		for ; end > start; end-- {
			cand := string(runes[start:end])
			if start > 0 {
				cand = ContinuationPrefix + cand
			}
			if _, ok := t.vocab[cand]; ok {
				piece = cand
				break
			}
		}
		if piece == "" {
			return []string{t.opts.UnkToken}
		}
		pieces = append(pieces, piece)
		start = end
	}
	return pieces
}

// EncodingResult is one encoded text.
type EncodingResult struct {
	InputIDs      []int
	AttentionMask []int
	Tokens        []string
}

// Encode wraps the tokens of text in [CLS] ... [SEP] and maps them to ids.
func (t *Tokenizer) Encode(text string) *EncodingResult {
	tokens := append([]string{t.opts.ClsToken}, t.Tokenize(text)...)
	if limit := t.opts.ModelMaxLength; limit > 0 && len(tokens) > limit-1 {
		tokens = tokens[:limit-1]
	}
	tokens = append(tokens, t.opts.SepToken)

	res := &EncodingResult{
		InputIDs:      make([]int, len(tokens)),
		AttentionMask: make([]int, len(tokens)),
		Tokens:        tokens,
	}
	for i, tok := range tokens {
		id, ok := t.vocab[tok]
		if !ok {
			id = t.unk
		}
		res.InputIDs[i] = id
		res.AttentionMask[i] = 1
	}
	return res
}

// BatchEncodingResult is a rectangular batch padded on the right.
type BatchEncodingResult struct {
	InputIDs      [][]int
	AttentionMask [][]int
	// Lengths holds the unpadded length of every row.
	Lengths []int
}

// BatchEncode encodes texts and pads every row to the longest one.
func (t *Tokenizer) BatchEncode(texts []string) (*BatchEncodingResult, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts to encode")
	}
	encodings := make([]*EncodingResult, len(texts))
	maxLen := 0
	for i, text := range texts {
		encodings[i] = t.Encode(text)
		if n := len(encodings[i].InputIDs); n > maxLen {
			maxLen = n
		}
	}

	res := &BatchEncodingResult{
		InputIDs:      make([][]int, len(texts)),
		AttentionMask: make([][]int, len(texts)),
		Lengths:       make([]int, len(texts)),
	}
	for i, enc := range encodings {
		ids := make([]int, maxLen)
		mask := make([]int, maxLen)
		copy(ids, enc.InputIDs)
		copy(mask, enc.AttentionMask)
		for j := len(enc.InputIDs); j < maxLen; j++ {
			ids[j] = t.pad
		}
		res.InputIDs[i] = ids
		res.AttentionMask[i] = mask
		res.Lengths[i] = len(enc.InputIDs)
	}
	return res, nil
}

// Decode maps ids back to text, dropping special tokens and joining
// continuation pieces onto the preceding word.
func (t *Tokenizer) Decode(ids []int) (string, error) {
	var b strings.Builder
	for _, id := range ids {
		if id < 0 || id >= len(t.ids) {
			return "", fmt.Errorf("token id %d out of range [0, %d)", id, len(t.ids))
		}
		if id == t.pad || id == t.cls || id == t.sep {
			continue
		}
		tok := t.ids[id]
		if rest, ok := strings.CutPrefix(tok, ContinuationPrefix); ok && b.Len() > 0 {
			b.WriteString(rest)
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(tok)
	}
	return b.String(), nil
}
