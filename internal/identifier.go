package internal

import (
	"context"
	"strings"
	"sync"
	"unicode"

	"github.com/mozillazg/go-unidecode"
	"go.uber.org/zap"
)

// IdentifierKind selects the reserved-word escape suffix.
type IdentifierKind string

const (
	IdentifierKindTable  IdentifierKind = "table"
	IdentifierKindColumn IdentifierKind = "column"
)

// DefaultMaxIdentifierLen is the PostgreSQL identifier length limit.
const DefaultMaxIdentifierLen = 63

// slugMaxLen leaves headroom under the 63-char limit for the disambiguator
// suffix appended afterwards.
const defaultSlugMaxLen = 50

// IdentifierCache stores resolved label -> identifier translations for the
// process lifetime, namespaced by source language. Implementations must be
// safe for concurrent use.
type IdentifierCache interface {
	Get(lang, label string) (string, bool)
	Put(lang, label, identifier string)
}

// MemoryIdentifierCache is the default in-process cache. Entries never
// expire: the same label must keep mapping to the same identifier for as
// long as the process plans migrations, or later diffs would misfire.
type MemoryIdentifierCache struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewMemoryIdentifierCache creates an empty cache.
func NewMemoryIdentifierCache() *MemoryIdentifierCache {
	return &MemoryIdentifierCache{entries: make(map[string]string)}
}

func cacheKey(lang, label string) string {
	return lang + "\x00" + label
}

// Get returns the cached identifier for a label, if present.
func (c *MemoryIdentifierCache) Get(lang, label string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[cacheKey(lang, label)]
	return v, ok
}

// Put stores a resolved identifier.
func (c *MemoryIdentifierCache) Put(lang, label, identifier string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(lang, label)] = identifier
}

// IdentifierTranslator converts human labels in any script into stable,
// unique, SQL-safe snake_case identifiers. Resolution never fails: every
// path degrades to transliteration and finally to a stable hash.
type IdentifierTranslator struct {
	provider   TranslationProvider
	cache      IdentifierCache
	sourceLang string
	slugMaxLen int
	maxLen     int
}

// TranslatorOption configures an IdentifierTranslator.
type TranslatorOption func(*IdentifierTranslator)

// WithSlugMaxLen overrides the pre-disambiguator truncation length.
func WithSlugMaxLen(n int) TranslatorOption {
	return func(t *IdentifierTranslator) {
		if n > 0 {
			t.slugMaxLen = n
		}
	}
}

// WithMaxIdentifierLen overrides the final identifier length limit.
func WithMaxIdentifierLen(n int) TranslatorOption {
	return func(t *IdentifierTranslator) {
		if n > 0 && n <= DefaultMaxIdentifierLen {
			t.maxLen = n
		}
	}
}

// NewIdentifierTranslator creates a translator. provider may be nil (no
// network path); cache may be nil (a fresh in-memory cache is used).
func NewIdentifierTranslator(provider TranslationProvider, cache IdentifierCache, sourceLang string, opts ...TranslatorOption) *IdentifierTranslator {
	if cache == nil {
		cache = NewMemoryIdentifierCache()
	}
	t := &IdentifierTranslator{
		provider:   provider,
		cache:      cache,
		sourceLang: sourceLang,
		slugMaxLen: defaultSlugMaxLen,
		maxLen:     DefaultMaxIdentifierLen,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ToIdentifier resolves a label into an engine-safe identifier. The result
// is deterministic for identical inputs within one process: the cache pins
// provider translations, and every fallback is a pure function of label.
// maxLen <= 0 uses the configured default.
func (t *IdentifierTranslator) ToIdentifier(ctx context.Context, label string, kind IdentifierKind, disambiguator string, maxLen int) string {
	if maxLen <= 0 || maxLen > DefaultMaxIdentifierLen {
		maxLen = t.maxLen
	}

	base := t.resolveBase(ctx, normalizeLabel(label))
	if disambiguator != "" {
		budget := maxLen - len(disambiguator) - 1
		base = truncateIdentifier(base, budget)
		base = base + "_" + disambiguator
	}
	base = truncateIdentifier(base, maxLen)
	if base == "" {
		base = "_" + shortHash(label, 8)
	}
	if isReservedWord(base) {
		base = truncateIdentifier(base, maxLen-len(reservedSuffix(kind)))
		base += reservedSuffix(kind)
	}
	if base[0] >= '0' && base[0] <= '9' {
		base = "f_" + truncateIdentifier(base, maxLen-2)
	}
	return base
}

// resolveBase runs the resolution pipeline: ASCII fast path, dictionary,
// cached provider translation, transliteration, hash.
func (t *IdentifierTranslator) resolveBase(ctx context.Context, label string) string {
	if label == "" {
		return ""
	}

	if isASCIISafe(label) {
		return slugify(label, t.slugMaxLen)
	}

	if word, ok := lookupDictionary(label); ok {
		return truncateIdentifier(word, t.slugMaxLen)
	}

	if cached, ok := t.cache.Get(t.sourceLang, label); ok {
		return cached
	}

	if t.provider != nil {
		translated, err := t.provider.Translate(ctx, label)
		if err == nil {
			slug := slugify(translated, t.slugMaxLen)
			if slug != "" {
				t.cache.Put(t.sourceLang, label, slug)
				return slug
			}
		} else {
			zap.S().Debugw("label translation degraded to transliteration",
				"label", label, "error", err)
		}
	}

	slug := slugify(unidecode.Unidecode(label), t.slugMaxLen)
	if slug == "" {
		slug = "_" + shortHash(label, 8)
	}
	t.cache.Put(t.sourceLang, label, slug)
	return slug
}

func normalizeLabel(label string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(label)), " ")
}

func isASCIISafe(s string) bool {
	hasLetter := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			hasLetter = true
		case r >= '0' && r <= '9', r == '_', r == ' ', r == '-':
		default:
			return false
		}
	}
	return hasLetter
}

// slugify lowercases and collapses everything outside [a-z0-9] into single
// underscores, then truncates.
func slugify(s string, maxLen int) string {
	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := true // suppress leading underscore
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return truncateIdentifier(strings.Trim(b.String(), "_"), maxLen)
}

func splitLabelTokens(label string) []string {
	return strings.FieldsFunc(label, func(r rune) bool {
		return unicode.IsSpace(r) || r == '/' || r == '-'
	})
}

func joinIdentifierWords(words []string) string {
	return strings.Join(words, "_")
}

func reservedSuffix(kind IdentifierKind) string {
	if kind == IdentifierKindTable {
		return "_table"
	}
	return "_field"
}

// postgresReservedWords is the subset of reserved keywords a slugified form
// label can realistically collide with.
var postgresReservedWords = map[string]struct{}{
	"all": {}, "analyse": {}, "analyze": {}, "and": {}, "any": {}, "array": {},
	"as": {}, "asc": {}, "asymmetric": {}, "both": {}, "case": {}, "cast": {},
	"check": {}, "collate": {}, "column": {}, "constraint": {}, "create": {},
	"current_date": {}, "current_role": {}, "current_time": {}, "current_timestamp": {},
	"current_user": {}, "default": {}, "deferrable": {}, "desc": {}, "distinct": {},
	"do": {}, "else": {}, "end": {}, "except": {}, "false": {}, "fetch": {},
	"for": {}, "foreign": {}, "from": {}, "grant": {}, "group": {}, "having": {},
	"in": {}, "initially": {}, "intersect": {}, "into": {}, "lateral": {},
	"leading": {}, "limit": {}, "localtime": {}, "localtimestamp": {}, "not": {},
	"null": {}, "offset": {}, "on": {}, "only": {}, "or": {}, "order": {},
	"placing": {}, "primary": {}, "references": {}, "returning": {}, "select": {},
	"session_user": {}, "some": {}, "symmetric": {}, "table": {}, "then": {},
	"to": {}, "trailing": {}, "true": {}, "union": {}, "unique": {}, "user": {},
	"using": {}, "variadic": {}, "when": {}, "where": {}, "window": {}, "with": {},
}

func isReservedWord(s string) bool {
	_, ok := postgresReservedWords[s]
	return ok
}
