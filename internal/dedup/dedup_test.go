package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCanonicalURL(t *testing.T) {
	testCases := []struct {
		name string
		in   string
		want string
	}{
		{"trailing slash", "https://example.com/news/", "https://example.com/news"},
		{"www prefix", "https://www.example.com/a", "https://example.com/a"},
		{"host case folding", "HTTPS://Example.COM/a", "https://example.com/a"},
		{"utm params stripped", "https://example.com/a?utm_source=x&utm_campaign=y&id=7", "https://example.com/a?id=7"},
		{"tracking ids stripped", "https://example.com/a?gclid=123&fbclid=456", "https://example.com/a"},
		{"fragment stripped", "https://example.com/a#section", "https://example.com/a"},
		{"query order normalized", "https://example.com/a?b=2&a=1", "https://example.com/a?a=1&b=2"},
		{"default port kept out", "https://example.com:443/a", "https://example.com/a"},
		{"unparseable input still stable", "not a url/", "not a url"},
		{"empty", "   ", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CanonicalURL(tc.in))
		})
	}
}

func TestCanonicalURLVariantsCollide(t *testing.T) {
	variants := []string{
		"https://www.example.com/story?utm_source=rss",
		"https://example.com/story/",
		"HTTPS://EXAMPLE.COM/story#top",
	}
	first := CanonicalURL(variants[0])
	for _, v := range variants[1:] {
		assert.Equal(t, first, CanonicalURL(v))
	}
}

func TestMemoryIndexFirstOccurrenceWins(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	added, err := idx.Add(ctx, "https://example.com/a")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = idx.Add(ctx, "https://www.example.com/a/")
	require.NoError(t, err)
	assert.False(t, added, "canonical-equal URL is a duplicate")

	seen, err := idx.Seen(ctx, "https://example.com/a#frag")
	require.NoError(t, err)
	assert.True(t, seen)

	n, err := idx.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRedisIndex(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	idx := NewRedisIndex(client, "run-123", time.Hour, zap.NewNop())

	added, err := idx.Add(ctx, "https://example.com/a?utm_source=x")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = idx.Add(ctx, "https://example.com/a")
	require.NoError(t, err)
	assert.False(t, added)

	seen, err := idx.Seen(ctx, "https://www.example.com/a")
	require.NoError(t, err)
	assert.True(t, seen)

	n, err := idx.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Separate runs do not share state.
	other := NewRedisIndex(client, "run-456", time.Hour, zap.NewNop())
	seen, err = other.Seen(ctx, "https://example.com/a")
	require.NoError(t, err)
	assert.False(t, seen)
}
