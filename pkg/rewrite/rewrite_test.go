package rewrite

import (
	"encoding/json"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const origin = "https://komikstation.org"

func decode(t *testing.T, raw string) any {
	t.Helper()
	var tree any
	require.NoError(t, json.Unmarshal([]byte(raw), &tree))
	return tree
}

func TestRewriteAbsoluteImageURL(t *testing.T) {
	tree := decode(t, `{"title":"One Piece","thumbnail":"https://cdn.example.com/covers/one-piece.jpg"}`)

	count := New(nil).Rewrite(tree, origin)

	assert.Equal(t, 1, count)
	m := tree.(map[string]any)
	assert.Equal(t, "One Piece", m["title"])
	assert.Equal(t,
		"/api/proxy-img?url="+url.QueryEscape("https://cdn.example.com/covers/one-piece.jpg"),
		m["thumbnail"],
	)
}

func TestRewriteRelativeUploadPath(t *testing.T) {
	tree := decode(t, `{"cover":"/wp-content/uploads/2024/01/cover.jpg"}`)

	count := New(nil).Rewrite(tree, origin)

	assert.Equal(t, 1, count)
	m := tree.(map[string]any)
	assert.Equal(t,
		"/api/proxy-img?url="+url.QueryEscape(origin+"/wp-content/uploads/2024/01/cover.jpg"),
		m["cover"],
	)
}

func TestRewriteRelativeNonUploadPathUnchanged(t *testing.T) {
	tree := decode(t, `{"link":"/manga/one-piece/chapter-1"}`)

	count := New(nil).Rewrite(tree, origin)

	assert.Equal(t, 0, count)
	assert.Equal(t, "/manga/one-piece/chapter-1", tree.(map[string]any)["link"])
}

func TestRewriteNestedStructures(t *testing.T) {
	tree := decode(t, `{
		"data": {
			"items": [
				{"img": "https://cdn.example.com/a.png", "rating": 4.5},
				{"img": "https://cdn.example.com/b.webp?quality=80", "done": true},
				{"img": null}
			]
		},
		"pages": ["https://cdn.example.com/uploads/p1", "plain text"]
	}`)

	count := New(nil).Rewrite(tree, origin)

	assert.Equal(t, 3, count)

	items := tree.(map[string]any)["data"].(map[string]any)["items"].([]any)
	assert.True(t, strings.HasPrefix(items[0].(map[string]any)["img"].(string), ProxyPath+"?url="))
	assert.True(t, strings.HasPrefix(items[1].(map[string]any)["img"].(string), ProxyPath+"?url="))
	assert.Nil(t, items[2].(map[string]any)["img"])

	pages := tree.(map[string]any)["pages"].([]any)
	assert.True(t, strings.HasPrefix(pages[0].(string), ProxyPath+"?url="))
	assert.Equal(t, "plain text", pages[1])
}

func TestRewriteImageExtensionWithQuery(t *testing.T) {
	tree := decode(t, `{"img":"https://cdn.example.com/a.JPG?w=300&h=200"}`)

	count := New(nil).Rewrite(tree, origin)

	assert.Equal(t, 1, count)
	rewritten := tree.(map[string]any)["img"].(string)

	// The original URL round-trips through the query parameter.
	parsed, err := url.Parse(rewritten)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.JPG?w=300&h=200", parsed.Query().Get("url"))
}

func TestRewriteSkipsNonImageURLs(t *testing.T) {
	tree := decode(t, `{
		"site": "https://example.com/about",
		"doc": "https://example.com/readme.txt",
		"note": "see https://example.com/a.png for details"
	}`)

	count := New(nil).Rewrite(tree, origin)

	assert.Equal(t, 0, count)
	m := tree.(map[string]any)
	assert.Equal(t, "https://example.com/about", m["site"])
	assert.Equal(t, "see https://example.com/a.png for details", m["note"])
}

func TestRewriteMalformedURLLeftAlone(t *testing.T) {
	tree := decode(t, `{"img":"https://exa mple.com/a.png"}`)

	count := New(nil).Rewrite(tree, origin)

	assert.Equal(t, 0, count)
	assert.Equal(t, "https://exa mple.com/a.png", tree.(map[string]any)["img"])
}

func TestRewriteIsIdempotent(t *testing.T) {
	tree := decode(t, `{"img":"https://cdn.example.com/a.png"}`)
	rw := New(nil)

	require.Equal(t, 1, rw.Rewrite(tree, origin))
	first := tree.(map[string]any)["img"].(string)

	// A second pass must not touch the already rewritten value: the escaped
	// query parameter no longer looks like an image URL.
	assert.Equal(t, 0, rw.Rewrite(tree, origin))
	assert.Equal(t, first, tree.(map[string]any)["img"])
}

// Property: strings without a URL shape are never modified.
func TestNonCandidatesUnchangedProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		value := rapid.StringMatching(`[a-zA-Z0-9 .,_-]{0,60}`).Draw(t, "value")
		if strings.HasPrefix(value, "/") {
			t.Skip()
		}

		tree := map[string]any{"field": value}
		New(nil).Rewrite(tree, origin)

		if tree["field"] != value {
			t.Fatalf("non-URL string modified: %q -> %q", value, tree["field"])
		}
	})
}

// Property: rewriting never loses the original URL; it is always recoverable
// from the url query parameter.
func TestRewriteRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		host := rapid.StringMatching(`[a-z]{1,10}\.example\.com`).Draw(t, "host")
		path := rapid.StringMatching(`[a-z0-9/-]{1,30}`).Draw(t, "path")
		ext := rapid.SampledFrom([]string{".jpg", ".jpeg", ".png", ".webp", ".avif", ".gif", ".svg"}).Draw(t, "ext")

		original := "https://" + host + "/" + path + ext
		tree := map[string]any{"img": original}

		count := New(nil).Rewrite(tree, origin)
		if count != 1 {
			t.Fatalf("expected 1 rewrite for %q, got %d", original, count)
		}

		parsed, err := url.Parse(tree["img"].(string))
		if err != nil {
			t.Fatalf("rewritten value is not a URL: %v", err)
		}
		if got := parsed.Query().Get("url"); got != original {
			t.Fatalf("round trip mismatch: %q -> %q", original, got)
		}
	})
}
