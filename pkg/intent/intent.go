// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package intent implements the Intent Registry & Local Matcher: a
// read-mostly, in-process table resolving well-known utterances to
// handlers via TF-IDF cosine similarity, so not every utterance has to
// round-trip through the LLM orchestrator.
//
// Grounded on original_source/butler/algorithms.py's TF-IDF matcher
// (the same corpus of documents compared pairwise by cosine distance
// over term vectors); no example repo in the pack carries a TF-IDF or
// bag-of-words library, so this stays on the standard library's
// strings/math (documented as the one justified stdlib exception for
// this component — see DESIGN.md).
package intent

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/HelloEveryboby/Butler/pkg/metrics"
)

// DefaultThreshold is the similarity floor match uses when the caller
// does not specify one (spec §4.3).
const DefaultThreshold = 0.7

// Handler is invoked on a successful dispatch. kwargs carries whatever
// entity mapping the caller has available; it may be empty.
type Handler func(kwargs map[string]any) (any, error)

// entry is one registered intent binding.
type entry struct {
	docstring        string
	handler          Handler
	requiresEntities bool
	terms            map[string]float64 // cached TF for docstring
}

// Registry is the Intent Registry. Safe for concurrent use; intended to
// be populated once at startup and read for the remainder of the
// process's life (spec §4.6 "read-mostly after startup").
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	metrics *metrics.Metrics
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// SetMetrics attaches a metrics.Metrics instance every subsequent Match
// call reports to. A nil receiver or a never-called SetMetrics both
// leave instrumentation disabled.
func (r *Registry) SetMetrics(m *metrics.Metrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = m
}

// Register binds name to handler with the given docstring (used as the
// similarity target and as an LLM hint) and requiresEntities flag.
// Re-registering an existing name rebinds it.
func (r *Registry) Register(name, docstring string, requiresEntities bool, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = &entry{
		docstring:        docstring,
		handler:          handler,
		requiresEntities: requiresEntities,
		terms:            termFrequency(tokenize(docstring)),
	}
}

// RequiresEntities reports whether name was registered with
// requiresEntities true. The second return is false if name is unknown.
func (r *Registry) RequiresEntities(name string) (bool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return false, false
	}
	return e.requiresEntities, true
}

// Match scores utterance against every registered intent with a
// non-empty docstring by TF-IDF cosine similarity and returns the
// arg-max intent name if its score is >= threshold, ties broken by
// lowest name lexicographically. Returns ("", false) if nothing clears
// the threshold.
func (r *Registry) Match(utterance string, threshold float64) (string, bool) {
	r.mu.RLock()
	metricsSink := r.metrics

	if len(r.entries) == 0 {
		r.mu.RUnlock()
		metricsSink.RecordIntentMatch(false, 0)
		return "", false
	}

	docs := make(map[string]map[string]float64, len(r.entries))
	for name, e := range r.entries {
		if e.docstring == "" {
			continue
		}
		docs[name] = e.terms
	}
	r.mu.RUnlock()
	if len(docs) == 0 {
		metricsSink.RecordIntentMatch(false, 0)
		return "", false
	}

	idf := inverseDocumentFrequency(docs)
	queryTF := termFrequency(tokenize(utterance))
	queryVec := tfidf(queryTF, idf)

	best := ""
	bestScore := -1.0
	names := make([]string, 0, len(docs))
	for name := range docs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		docVec := tfidf(docs[name], idf)
		score := cosineSimilarity(queryVec, docVec)
		if score > bestScore {
			bestScore = score
			best = name
		}
	}

	hit := bestScore >= threshold
	metricsSink.RecordIntentMatch(hit, bestScore)
	if hit {
		return best, true
	}
	return "", false
}

// Dispatch looks up name and invokes its handler with kwargs. Unknown
// intent returns (nil, false). A handler panic or error is logged and
// swallowed: dispatch failures must never propagate into the agent
// loop (spec §4.3).
func (r *Registry) Dispatch(name string, kwargs map[string]any) (result any, ok bool) {
	r.mu.RLock()
	e, found := r.entries[name]
	r.mu.RUnlock()
	if !found {
		return nil, false
	}

	defer func() {
		if p := recover(); p != nil {
			slog.Error("intent handler panicked", "intent", name, "panic", fmt.Sprint(p))
			result, ok = nil, false
		}
	}()

	value, err := e.handler(kwargs)
	if err != nil {
		slog.Error("intent handler failed", "intent", name, "error", err)
		return nil, false
	}
	return value, true
}

// tokenize lowercases and splits on anything that isn't a letter or
// digit, discarding empty tokens.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

// termFrequency computes raw term counts normalized by document length.
func termFrequency(tokens []string) map[string]float64 {
	tf := make(map[string]float64, len(tokens))
	if len(tokens) == 0 {
		return tf
	}
	for _, t := range tokens {
		tf[t]++
	}
	for t := range tf {
		tf[t] /= float64(len(tokens))
	}
	return tf
}

// inverseDocumentFrequency computes idf(t) = ln((1 + N) / (1 + df(t))) + 1
// over the given corpus. This smoothed form keeps every weight positive:
// a term found in every docstring still counts, and a term found in
// fewer docstrings counts more.
func inverseDocumentFrequency(docs map[string]map[string]float64) map[string]float64 {
	df := make(map[string]int)
	for _, terms := range docs {
		for t := range terms {
			df[t]++
		}
	}
	n := float64(len(docs))
	idf := make(map[string]float64, len(df))
	for t, count := range df {
		idf[t] = math.Log((1+n)/(1+float64(count))) + 1
	}
	return idf
}

// tfidf multiplies term frequencies by their idf weight, omitting terms
// the corpus has no idf entry for (out-of-vocabulary query terms).
func tfidf(tf map[string]float64, idf map[string]float64) map[string]float64 {
	vec := make(map[string]float64, len(tf))
	for t, freq := range tf {
		weight, ok := idf[t]
		if !ok {
			continue
		}
		vec[t] = freq * weight
	}
	return vec
}

// cosineSimilarity compares two sparse term-weight vectors. Two empty
// vectors are defined as similarity 0, not 1, so an utterance sharing no
// vocabulary with a docstring never spuriously matches.
func cosineSimilarity(a, b map[string]float64) float64 {
	var dot, normA, normB float64
	for t, wa := range a {
		normA += wa * wa
		if wb, ok := b[t]; ok {
			dot += wa * wb
		}
	}
	for _, wb := range b {
		normB += wb * wb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
