package similarity

import "context"

// Match is one similarity hit. Score is a 0..1 similarity and Snippet the
// first 200 characters of the stored content.
type Match struct {
	Name    string  `json:"name"`
	Score   float64 `json:"score"`
	Snippet string  `json:"snippet"`
}

// Index is the external similarity oracle: node content keyed by name,
// ranked nearest-neighbor queries. An empty index answers queries with
// empty results, never an error.
type Index interface {
	Upsert(ctx context.Context, name, content string) error
	Query(ctx context.Context, query string, topK int) ([]Match, error)
	Delete(ctx context.Context, name string) error
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

const (
	defaultTopK = 5
	snippetLen  = 200
)

// embedText is the canonical form fed to the embedder: the node name as a
// heading above the content.
func embedText(name, content string) string {
	return "# " + name + "\n\n" + content
}

func snippet(content string) string {
	runes := []rune(content)
	if len(runes) <= snippetLen {
		return content
	}
	return string(runes[:snippetLen])
}
