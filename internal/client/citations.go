package client

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"courtside/internal/types"

	"github.com/golang/groupcache/lru"
)

// DefaultCitationCacheSize bounds the hydration cache.
const DefaultCitationCacheSize = 128

const fingerprintPrefixRunes = 64

var citationMarker = regexp.MustCompile(`\[(\d{1,3})\]`)

// CitationHydrator rewrites [n] markers into [n](uri) links using the
// answer's grounding sources. Results are memoized in a bounded LRU keyed
// by a fingerprint of the text and sources.
type CitationHydrator struct {
	mu       sync.Mutex
	cache    *lru.Cache
	capacity int
	computes int
}

// NewCitationHydrator creates a hydrator holding at most capacity results.
func NewCitationHydrator(capacity int) *CitationHydrator {
	if capacity <= 0 {
		capacity = DefaultCitationCacheSize
	}
	return &CitationHydrator{cache: lru.New(capacity), capacity: capacity}
}

// Hydrate returns text with citation markers linked.
func (h *CitationHydrator) Hydrate(text string, sources []types.GroundingSource) string {
	if len(sources) == 0 || !strings.Contains(text, "[") {
		return text
	}
	key := Fingerprint(text, sources)

	h.mu.Lock()
	defer h.mu.Unlock()
	if v, ok := h.cache.Get(key); ok {
		// The fingerprint only samples the text, so confirm the full input.
		if e := v.(hydrated); e.text == text {
			return e.out
		}
	}
	out := HydrateCitations(text, sources)
	h.computes++
	h.cache.Add(key, hydrated{text: text, out: out})
	return out
}

type hydrated struct {
	text string
	out  string
}

// Len returns the number of cached results.
func (h *CitationHydrator) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cache.Len()
}

// Capacity returns the cache bound.
func (h *CitationHydrator) Capacity() int {
	return h.capacity
}

// Computes returns how many hydrations were computed rather than served
// from cache.
func (h *CitationHydrator) Computes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.computes
}

// Fingerprint keys a hydration by the first runes of text, its length and
// an FNV-64a hash of the ordered source URIs.
func Fingerprint(text string, sources []types.GroundingSource) string {
	prefix := text
	if r := []rune(text); len(r) > fingerprintPrefixRunes {
		prefix = string(r[:fingerprintPrefixRunes])
	}
	hash := fnv.New64a()
	for _, s := range sources {
		hash.Write([]byte(s.URI))
		hash.Write([]byte{0})
	}
	return fmt.Sprintf("%s|%d|%x", prefix, len(text), hash.Sum64())
}

// HydrateCitations links every [n] marker with 1 <= n <= len(sources) that
// is not already a link.
func HydrateCitations(text string, sources []types.GroundingSource) string {
	var sb strings.Builder
	last := 0
	for _, m := range citationMarker.FindAllStringSubmatchIndex(text, -1) {
		end := m[1]
		if end < len(text) && text[end] == '(' {
			continue
		}
		n, err := strconv.Atoi(text[m[2]:m[3]])
		if err != nil || n < 1 || n > len(sources) || sources[n-1].URI == "" {
			continue
		}
		sb.WriteString(text[last:end])
		sb.WriteString("(" + sources[n-1].URI + ")")
		last = end
	}
	if last == 0 {
		return text
	}
	sb.WriteString(text[last:])
	return sb.String()
}
