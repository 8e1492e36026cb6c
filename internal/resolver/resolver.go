// Package resolver normalizes raw order-line identifiers into canonical
// SKUs. Priority is fixed: manual override, then placeholder-suffix
// live lookup, then barcode pattern decomposition. Resolution never
// fails; worst case the input comes back unchanged and callers proceed
// with the best-effort identifier.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"fulfillsync/internal/cache"
	"fulfillsync/internal/marketplace"
)

// Resolver holds its own override table and lookup cache. It is an
// explicitly constructed service: two resolvers with different
// credentials or overrides can coexist without cross-talk.
type Resolver struct {
	overrides map[string]string
	suffix    string
	lookup    marketplace.ItemLookup
	cache     cache.Cache
}

// Config holds resolver settings.
type Config struct {
	// Overrides maps raw codes to canonical SKUs and takes precedence
	// over all other logic.
	Overrides map[string]string

	// PlaceholderSuffix marks codes that must be resolved via live
	// lookup. Defaults to "OUT".
	PlaceholderSuffix string
}

// New creates a resolver. lookup may be nil, in which case suffixed
// codes pass through unchanged; c may be nil to disable caching.
func New(lookup marketplace.ItemLookup, c cache.Cache, cfg Config) *Resolver {
	suffix := cfg.PlaceholderSuffix
	if suffix == "" {
		suffix = "OUT"
	}
	overrides := cfg.Overrides
	if overrides == nil {
		overrides = map[string]string{}
	}
	return &Resolver{
		overrides: overrides,
		suffix:    suffix,
		lookup:    lookup,
		cache:     c,
	}
}

// LoadOverrides reads a JSON override table (raw code -> canonical SKU).
// A missing file yields an empty table, not an error.
func LoadOverrides(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read overrides file: %w", err)
	}

	var overrides map[string]string
	if err := json.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse overrides file %s: %w", path, err)
	}
	return overrides, nil
}

// Resolve normalizes a raw order-line identifier into a canonical SKU.
// rawCode may be a seller-assigned code or a barcode; when the raw code
// cannot be improved upon it is returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, itemID, variationID, rawCode string) string {
	if rawCode == "" {
		return rawCode
	}

	// Manual overrides win over everything.
	if sku, ok := r.overrides[rawCode]; ok {
		return sku
	}

	if strings.HasSuffix(rawCode, r.suffix) && len(rawCode) > len(r.suffix) {
		return r.resolveLive(ctx, itemID, variationID, rawCode)
	}

	if sku, ok := Decompose(rawCode); ok {
		return sku
	}

	return rawCode
}

// resolveLive resolves a placeholder-suffixed code through the item
// lookup, caching results per (item, variation, code) triple.
func (r *Resolver) resolveLive(ctx context.Context, itemID, variationID, rawCode string) string {
	key := cacheKey(itemID, variationID, rawCode)

	if r.cache != nil {
		if cached, err := r.cache.Get(ctx, key); err == nil {
			return string(cached)
		}
	}

	if r.lookup == nil || itemID == "" {
		return rawCode
	}

	code, err := r.lookup.GetItemSellerCode(ctx, itemID, variationID)
	if err != nil {
		// Lookup failures are not cached; the next order for this item
		// gets another chance.
		log.Printf("[Resolver] Live lookup for %s (item %s) failed: %v", rawCode, itemID, err)
		return rawCode
	}

	resolved := rawCode
	if code != "" && code != rawCode {
		resolved = code
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, key, []byte(resolved)); err != nil {
			log.Printf("[Resolver] Failed to cache %s: %v", key, err)
		}
	}
	return resolved
}

func cacheKey(itemID, variationID, rawCode string) string {
	return itemID + "|" + variationID + "|" + rawCode
}
