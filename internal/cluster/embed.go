// Package cluster groups short texts with hashed bag-of-words vectors.
package cluster

import (
	"hash/fnv"
	"math"
	"regexp"
	"sort"
	"strings"
)

// Dim is the embedding width.
const Dim = 256

// Vec is an L2-normalized embedding.
type Vec []float32

var splitRe = regexp.MustCompile(`[^a-z0-9]+`)

// Tokenize lowercases text and keeps tokens longer than 2 and shorter than 32 bytes.
func Tokenize(text string) []string {
	parts := splitRe.Split(strings.ToLower(text), -1)
	out := parts[:0]
	for _, p := range parts {
		if len(p) > 2 && len(p) < 32 {
			out = append(out, p)
		}
	}
	return out
}

// Embed hashes title tokens with weight 2 and snippet tokens with weight 1.
func Embed(title, snippet string) Vec {
	v := make(Vec, Dim)
	add := func(tok string, w float32) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		v[h.Sum32()%Dim] += w
	}
	for _, tok := range Tokenize(title) {
		add(tok, 2)
	}
	for _, tok := range Tokenize(snippet) {
		add(tok, 1)
	}
	return normalize(v)
}

func normalize(v Vec) Vec {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	n := math.Sqrt(s)
	if n == 0 {
		n = 1
	}
	out := make(Vec, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

// Cosine is the dot product of two normalized vectors, clamped to [-1, 1].
func Cosine(a, b Vec) float64 {
	var s float64
	for i := range min(len(a), len(b)) {
		s += float64(a[i]) * float64(b[i])
	}
	return math.Max(-1, math.Min(1, s))
}

// MeanVec is the normalized centroid of vs. An empty input gives the zero vector.
func MeanVec(vs []Vec) Vec {
	m := make(Vec, Dim)
	if len(vs) == 0 {
		return m
	}
	for _, v := range vs {
		for i := range min(len(v), Dim) {
			m[i] += v[i]
		}
	}
	for i := range m {
		m[i] /= float32(len(vs))
	}
	return normalize(m)
}

// TopTokens returns the k most frequent tokens across texts.
// Ties keep first-seen order.
func TopTokens(texts []string, k int) []string {
	freq := make(map[string]int)
	var order []string
	for _, t := range texts {
		for _, tok := range Tokenize(t) {
			if freq[tok] == 0 {
				order = append(order, tok)
			}
			freq[tok]++
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return freq[order[i]] > freq[order[j]] })
	if k < len(order) {
		order = order[:k]
	}
	return order
}
