package resolver

import (
	"context"
	"fmt"
	"os"
	"testing"

	"fulfillsync/internal/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLookup counts calls so tests can verify caching behavior.
type fakeLookup struct {
	codes map[string]string // itemID -> seller code
	err   error
	calls int
}

func (f *fakeLookup) GetItemSellerCode(ctx context.Context, itemID, variationID string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.codes[itemID], nil
}

func TestResolveOverrideWins(t *testing.T) {
	lookup := &fakeLookup{codes: map[string]string{"MLA1": "FROM-LOOKUP"}}
	r := New(lookup, nil, Config{
		Overrides: map[string]string{
			"ABC123XYZOUT": "ABC-RR0-T99", // would otherwise hit the live lookup
			"CAMNEG42":     "MANUAL-SKU",  // would otherwise decompose
		},
	})

	ctx := context.Background()
	assert.Equal(t, "ABC-RR0-T99", r.Resolve(ctx, "MLA1", "", "ABC123XYZOUT"))
	assert.Equal(t, "MANUAL-SKU", r.Resolve(ctx, "", "", "CAMNEG42"))
	assert.Zero(t, lookup.calls, "overrides must short-circuit the lookup")
}

func TestResolveSuffixLiveLookup(t *testing.T) {
	lookup := &fakeLookup{codes: map[string]string{"MLA1": "ABC-NN0-T40"}}
	r := New(lookup, nil, Config{})

	got := r.Resolve(context.Background(), "MLA1", "", "ABC123XYZOUT")
	assert.Equal(t, "ABC-NN0-T40", got)
	assert.Equal(t, 1, lookup.calls)
}

func TestResolveSuffixLookupEmptyKeepsRaw(t *testing.T) {
	lookup := &fakeLookup{codes: map[string]string{}}
	r := New(lookup, nil, Config{})

	got := r.Resolve(context.Background(), "MLA2", "VAR1", "XYZOUT")
	assert.Equal(t, "XYZOUT", got, "lookup with no code passes the raw code through")
}

func TestResolveSuffixLookupFailureNotCached(t *testing.T) {
	lookup := &fakeLookup{err: fmt.Errorf("api down")}
	r := New(lookup, cache.NewLRUCache(10), Config{})

	ctx := context.Background()
	assert.Equal(t, "ABCOUT", r.Resolve(ctx, "MLA3", "", "ABCOUT"))
	assert.Equal(t, 1, lookup.calls)

	// Failure was not cached: the next resolve retries the lookup, and a
	// recovered backend supplies the real code.
	lookup.err = nil
	lookup.codes = map[string]string{"MLA3": "ABC-GG0-T38"}
	assert.Equal(t, "ABC-GG0-T38", r.Resolve(ctx, "MLA3", "", "ABCOUT"))
	assert.Equal(t, 2, lookup.calls)
}

func TestResolveCachesLookupResults(t *testing.T) {
	lookup := &fakeLookup{codes: map[string]string{"MLA4": "DEF-BB0-T41"}}
	r := New(lookup, cache.NewLRUCache(10), Config{})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		assert.Equal(t, "DEF-BB0-T41", r.Resolve(ctx, "MLA4", "V1", "DEFOUT"))
	}
	assert.Equal(t, 1, lookup.calls, "repeat resolutions must come from cache")

	// A different variation of the same item is a distinct cache key.
	r.Resolve(ctx, "MLA4", "V2", "DEFOUT")
	assert.Equal(t, 2, lookup.calls)
}

func TestResolveSuffixWithoutLookup(t *testing.T) {
	r := New(nil, nil, Config{})
	assert.Equal(t, "ABCOUT", r.Resolve(context.Background(), "MLA5", "", "ABCOUT"))
}

func TestResolveCustomSuffix(t *testing.T) {
	lookup := &fakeLookup{codes: map[string]string{"MLA6": "REAL-SKU"}}
	r := New(lookup, nil, Config{PlaceholderSuffix: "PEND"})

	ctx := context.Background()
	assert.Equal(t, "REAL-SKU", r.Resolve(ctx, "MLA6", "", "ABCPEND"))

	// The default suffix no longer triggers a lookup; the code falls
	// through to pattern decomposition and then passes unchanged.
	assert.Equal(t, "ABCOUT", r.Resolve(ctx, "MLA6", "", "ABCOUT"))
	assert.Equal(t, 1, lookup.calls)
}

func TestResolvePatternFallback(t *testing.T) {
	r := New(nil, nil, Config{})
	ctx := context.Background()

	assert.Equal(t, "CAM-NN0-T42", r.Resolve(ctx, "", "", "CAMNEG42"))
	assert.Equal(t, "PLAIN-SKU", r.Resolve(ctx, "", "", "PLAIN-SKU"), "unmatched codes pass through unchanged")
	assert.Equal(t, "", r.Resolve(ctx, "", "", ""))
}

func TestResolveBareSuffixIsNotPlaceholder(t *testing.T) {
	lookup := &fakeLookup{codes: map[string]string{"MLA7": "X"}}
	r := New(lookup, nil, Config{})

	// A code that IS the suffix carries no base to resolve.
	assert.Equal(t, "OUT", r.Resolve(context.Background(), "MLA7", "", "OUT"))
	assert.Zero(t, lookup.calls)
}

func TestLoadOverrides(t *testing.T) {
	t.Run("missing file yields empty table", func(t *testing.T) {
		overrides, err := LoadOverrides(t.TempDir() + "/nope.json")
		require.NoError(t, err)
		assert.Empty(t, overrides)
	})

	t.Run("valid file", func(t *testing.T) {
		path := t.TempDir() + "/overrides.json"
		writeFile(t, path, `{"RAW1": "SKU-1", "RAW2": "SKU-2"}`)

		overrides, err := LoadOverrides(path)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"RAW1": "SKU-1", "RAW2": "SKU-2"}, overrides)
	})

	t.Run("malformed file errors", func(t *testing.T) {
		path := t.TempDir() + "/broken.json"
		writeFile(t, path, `{"RAW1": `)

		_, err := LoadOverrides(path)
		assert.Error(t, err)
	})
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
