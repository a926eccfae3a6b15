package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/inferflow/llm/embedding"
	"github.com/BaSui01/inferflow/rag"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestParseHeading(t *testing.T) {
	h, lvl := parseHeading("## Best Practices")
	assert.Equal(t, "Best Practices", h)
	assert.Equal(t, 2, lvl)

	h, _ = parseHeading("#hashtag")
	assert.Empty(t, h)
	h, _ = parseHeading("####### too deep")
	assert.Empty(t, h)
	h, _ = parseHeading("plain")
	assert.Empty(t, h)
}

func TestClassifySection(t *testing.T) {
	assert.Equal(t, SectionExamples, classifySection("Examples"))
	assert.Equal(t, SectionExamples, classifySection("example: retry loop"))
	assert.Equal(t, SectionBestPractices, classifySection("Best practices"))
	assert.Equal(t, SectionBestPractices, classifySection("best_practices"))
	assert.Equal(t, SectionDocumentation, classifySection("Overview"))
	assert.Equal(t, SectionDocumentation, classifySection(""))
}

func TestMarkdownLoader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "guide.md")
	writeFile(t, path, "intro text\n\n# Overview\nchannels pass data\n\n## Example: pipeline\nfunc main() {}\n\n## Best practices\nclose channels from the sender\n\n# Empty\n")

	docs, err := NewMarkdownLoader().Load(context.Background(), path, "go/guide.md")
	require.NoError(t, err)
	require.Len(t, docs, 4)

	assert.Equal(t, "go/guide.md#0", docs[0].ID)
	assert.Equal(t, "intro text", docs[0].Content)
	assert.Equal(t, SectionDocumentation, docs[1].Metadata["section"])
	assert.Equal(t, "Overview\nchannels pass data", docs[1].Content)
	assert.Equal(t, SectionExamples, docs[2].Metadata["section"])
	assert.Equal(t, SectionBestPractices, docs[3].Metadata["section"])
	assert.Equal(t, "go/guide.md", docs[3].Metadata["source"])
}

func TestJSONLoader(t *testing.T) {
	dir := t.TempDir()
	arr := filepath.Join(dir, "kb.json")
	writeFile(t, arr, `[{"id":"k1","content":"use context","section":"best_practices","source":"wiki/ctx"},{"content":"  "},{"content":"second"}]`)

	docs, err := NewJSONLoader().Load(context.Background(), arr, "kb.json")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "k1", docs[0].ID)
	assert.Equal(t, "wiki/ctx", docs[0].Metadata["source"])
	assert.Equal(t, SectionBestPractices, docs[0].Metadata["section"])
	assert.Equal(t, "kb.json#2", docs[1].ID)

	lines := filepath.Join(dir, "kb.jsonl")
	writeFile(t, lines, "{\"content\":\"a\"}\n\n{\"content\":\"b\",\"metadata\":{\"lang\":\"go\"}}\n")
	docs, err = NewJSONLoader().Load(context.Background(), lines, "kb.jsonl")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "go", docs[1].Metadata["lang"])

	bad := filepath.Join(dir, "bad.jsonl")
	writeFile(t, bad, "{\"content\":\"a\"}\nnot json\n")
	_, err = NewJSONLoader().Load(context.Background(), bad, "bad.jsonl")
	assert.ErrorContains(t, err, "line 2")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{".json", ".jsonl", ".md", ".txt"}, r.SupportedTypes())
	assert.True(t, r.Supports("a/B.MD"))
	assert.False(t, r.Supports("a.csv"))

	_, err := r.Load(context.Background(), "noext", "noext")
	assert.Error(t, err)
	_, err = r.Load(context.Background(), "x.pdf", "x.pdf")
	assert.Error(t, err)
}

func TestIngest(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "readme.txt"), "top level note")
	writeFile(t, filepath.Join(root, "golang", "guide.md"), "# Overview\ngoroutines\n# Examples\nworker pool")
	writeFile(t, filepath.Join(root, "golang", "nested", "faq.txt"), "faq body")
	writeFile(t, filepath.Join(root, "golang", "broken.json"), "{oops")
	writeFile(t, filepath.Join(root, "golang", "image.png"), "binary")

	store := rag.NewMemoryKnowledgeStore()
	embedder := embedding.NewEmbedder(nil)

	stats, err := Ingest(context.Background(), root, store, embedder, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Files)
	assert.Equal(t, 4, stats.Documents)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, map[string]int{"default": 1, "golang": 3}, stats.Partitions)

	parts, err := store.Partitions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []rag.Partition{{Name: "default", DocCount: 1}, {Name: "golang", DocCount: 3}}, parts)

	vec, err := embedder.Embed(context.Background(), "goroutines")
	require.NoError(t, err)
	hits, err := store.VectorSearch(context.Background(), "golang", vec.Values, 0.1, 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "golang/guide.md#0", hits[0].ID)
}

func TestIngest_MissingRoot(t *testing.T) {
	_, err := Ingest(context.Background(), filepath.Join(t.TempDir(), "nope"), rag.NewMemoryKnowledgeStore(), nil, nil)
	assert.Error(t, err)
}
