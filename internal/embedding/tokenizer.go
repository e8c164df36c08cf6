package embedding

import "strings"

const (
	clsToken   = 101
	sepToken   = 102
	vocabRange = 30000
)

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
	// TokenizePair encodes "[CLS] a [SEP] b [SEP]" with segment ids 0 then 1, as cross-encoders expect.
	TokenizePair(a, b string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// SimpleTokenizer is a word-split tokenizer with hash-based token IDs (for testing or fallback).
type SimpleTokenizer struct{}

// Tokenize splits text into words and produces padded token IDs up to maxTokens.
func (t *SimpleTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 0 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = clsToken
	attentionMask[0] = 1
	pos := appendWords(inputIDs, attentionMask, nil, 1, SplitWords(text), maxTokens-1, 0)
	if pos < maxTokens {
		inputIDs[pos] = sepToken
		attentionMask[pos] = 1
	}
	return inputIDs, attentionMask, tokenTypeIDs
}

// TokenizePair encodes a query/passage pair. The query gets at most half of the budget.
func (t *SimpleTokenizer) TokenizePair(a, b string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = clsToken
	attentionMask[0] = 1
	pos := appendWords(inputIDs, attentionMask, tokenTypeIDs, 1, SplitWords(a), maxTokens/2, 0)
	inputIDs[pos] = sepToken
	attentionMask[pos] = 1
	pos++
	pos = appendWords(inputIDs, attentionMask, tokenTypeIDs, pos, SplitWords(b), maxTokens-1, 1)
	if pos < maxTokens {
		inputIDs[pos] = sepToken
		attentionMask[pos] = 1
		tokenTypeIDs[pos] = 1
	}
	return inputIDs, attentionMask, tokenTypeIDs
}

// appendWords writes word ids from pos up to (not including) limit and returns the next free position.
func appendWords(ids, mask, types []int64, pos int, words []string, limit int, segment int64) int {
	for _, word := range words {
		if pos >= limit {
			break
		}
		ids[pos] = int64(HashString(strings.ToLower(word)) % vocabRange)
		mask[pos] = 1
		if types != nil {
			types[pos] = segment
		}
		pos++
	}
	return pos
}

// SplitWords splits text on whitespace and returns non-empty words.
func SplitWords(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	return words
}

// HashString returns a deterministic hash for use as a simple token ID.
func HashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	return h
}
