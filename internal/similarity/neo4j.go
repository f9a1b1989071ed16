package similarity

import (
	"context"
	"fmt"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	apperrors "loom/pkg/errors"
	"loom/pkg/logger"
)

const vectorIndexName = "node_embeddings"

// Neo4jIndex keeps node embeddings in a Neo4j vector index. The caller owns
// the driver; the vector index itself is created lazily on the first upsert,
// once the embedding dimensionality is known.
type Neo4jIndex struct {
	driver neo4j.DriverWithContext
	embed  Embedder
	logger *zap.Logger

	mu         sync.Mutex
	indexReady bool
}

var _ Index = (*Neo4jIndex)(nil)

func NewNeo4jIndex(driver neo4j.DriverWithContext, embed Embedder) *Neo4jIndex {
	return &Neo4jIndex{
		driver: driver,
		embed:  embed,
		logger: logger.Named("similarity"),
	}
}

func (n *Neo4jIndex) Upsert(ctx context.Context, name, content string) error {
	vector, err := n.embed.Embed(ctx, embedText(name, content))
	if err != nil {
		return err
	}
	if err := n.ensureIndex(ctx, len(vector)); err != nil {
		return err
	}

	session := n.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MERGE (n:Node {name: $name})
		SET n.content = $content
		WITH n
		CALL db.create.setNodeVectorProperty(n, 'embedding', $embedding)
	`
	_, err = session.Run(ctx, query, map[string]any{
		"name":      name,
		"content":   content,
		"embedding": toFloat64s(vector),
	})
	if err != nil {
		return apperrors.NewSimilarityFailed("upsert", err)
	}

	n.logger.Debug("upserted embedding", zap.String("node", name))
	return nil
}

func (n *Neo4jIndex) Query(ctx context.Context, query string, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = defaultTopK
	}

	session := n.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	countResult, err := session.Run(ctx, "MATCH (n:Node) RETURN count(n) AS count", nil)
	if err != nil {
		return nil, apperrors.NewSimilarityFailed("query", err)
	}
	var count int64
	if countResult.Next(ctx) {
		count = getIntFromRecord(countResult.Record(), "count")
	}
	if count == 0 {
		return []Match{}, nil
	}

	queryVec, err := n.embed.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	cypher := `
		CALL db.index.vector.queryNodes($index, $topK, $embedding)
		YIELD node, score
		RETURN node.name AS name, node.content AS content, score
	`
	result, err := session.Run(ctx, cypher, map[string]any{
		"index":     vectorIndexName,
		"topK":      topK,
		"embedding": toFloat64s(queryVec),
	})
	if err != nil {
		return nil, apperrors.NewSimilarityFailed("query", err)
	}

	matches := []Match{}
	for result.Next(ctx) {
		record := result.Record()
		matches = append(matches, Match{
			Name:    getStringFromRecord(record, "name"),
			Score:   getFloatFromRecord(record, "score"),
			Snippet: snippet(getStringFromRecord(record, "content")),
		})
	}
	if err := result.Err(); err != nil {
		return nil, apperrors.NewSimilarityFailed("query", err)
	}

	return matches, nil
}

func (n *Neo4jIndex) Delete(ctx context.Context, name string) error {
	session := n.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.Run(ctx, "MATCH (n:Node {name: $name}) DETACH DELETE n", map[string]any{
		"name": name,
	})
	if err != nil {
		return apperrors.NewSimilarityFailed("delete", err)
	}

	n.logger.Debug("deleted embedding", zap.String("node", name))
	return nil
}

// Clear drops every stored node. Used by full reindexes.
func (n *Neo4jIndex) Clear(ctx context.Context) error {
	session := n.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	if _, err := session.Run(ctx, "MATCH (n:Node) DETACH DELETE n", nil); err != nil {
		return apperrors.NewSimilarityFailed("clear", err)
	}
	return nil
}

// ensureIndex creates the vector index once the dimensionality is known.
// Schema commands do not accept parameters, hence the Sprintf.
func (n *Neo4jIndex) ensureIndex(ctx context.Context, dimensions int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.indexReady {
		return nil
	}

	session := n.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := fmt.Sprintf(`
		CREATE VECTOR INDEX %s IF NOT EXISTS
		FOR (n:Node) ON (n.embedding)
		OPTIONS {indexConfig: {
			`+"`vector.dimensions`"+`: %d,
			`+"`vector.similarity_function`"+`: 'cosine'
		}}
	`, vectorIndexName, dimensions)
	if _, err := session.Run(ctx, query, nil); err != nil {
		return apperrors.NewSimilarityFailed("create index", err)
	}

	n.indexReady = true
	return nil
}

func toFloat64s(vector []float32) []float64 {
	out := make([]float64, len(vector))
	for i, v := range vector {
		out[i] = float64(v)
	}
	return out
}

func getStringFromRecord(record *neo4j.Record, key string) string {
	if value, ok := record.Get(key); ok {
		if str, ok := value.(string); ok {
			return str
		}
	}
	return ""
}

func getFloatFromRecord(record *neo4j.Record, key string) float64 {
	if value, ok := record.Get(key); ok {
		switch v := value.(type) {
		case float64:
			return v
		case int64:
			return float64(v)
		}
	}
	return 0
}

func getIntFromRecord(record *neo4j.Record, key string) int64 {
	if value, ok := record.Get(key); ok {
		if i, ok := value.(int64); ok {
			return i
		}
	}
	return 0
}
