package similarity

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	apperrors "loom/pkg/errors"
	"loom/pkg/logger"
)

var vectorBucket = []byte("vectors")

// LocalIndex stores vectors in a bbolt file and answers queries by
// brute-force cosine similarity. It matches the oracle contract at the
// scale a single store sees; a server-backed index covers anything larger.
type LocalIndex struct {
	db     *bolt.DB
	embed  Embedder
	logger *zap.Logger
}

type storedVector struct {
	Vector  []float32 `json:"vector"`
	Content string    `json:"content"`
}

var _ Index = (*LocalIndex)(nil)

// NewLocalIndex opens (or creates) the index file at path.
func NewLocalIndex(path string, embed Embedder) (*LocalIndex, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, apperrors.NewSimilarityFailed("open", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, apperrors.NewSimilarityFailed("open", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(vectorBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, apperrors.NewSimilarityFailed("open", err)
	}

	return &LocalIndex{db: db, embed: embed, logger: logger.Named("similarity")}, nil
}

func (l *LocalIndex) Close() error {
	return l.db.Close()
}

func (l *LocalIndex) Upsert(ctx context.Context, name, content string) error {
	vector, err := l.embed.Embed(ctx, embedText(name, content))
	if err != nil {
		return err
	}

	data, err := json.Marshal(storedVector{Vector: vector, Content: content})
	if err != nil {
		return apperrors.NewSimilarityFailed("upsert", err)
	}

	err = l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(vectorBucket).Put([]byte(name), data)
	})
	if err != nil {
		return apperrors.NewSimilarityFailed("upsert", err)
	}

	l.logger.Debug("upserted embedding", zap.String("node", name))
	return nil
}

func (l *LocalIndex) Query(ctx context.Context, query string, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = defaultTopK
	}

	empty := true
	err := l.db.View(func(tx *bolt.Tx) error {
		k, _ := tx.Bucket(vectorBucket).Cursor().First()
		empty = k == nil
		return nil
	})
	if err != nil {
		return nil, apperrors.NewSimilarityFailed("query", err)
	}
	if empty {
		return []Match{}, nil
	}

	queryVec, err := l.embed.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	matches := []Match{}
	err = l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(vectorBucket).ForEach(func(k, v []byte) error {
			var stored storedVector
			if err := json.Unmarshal(v, &stored); err != nil {
				return fmt.Errorf("failed to decode entry %q: %w", k, err)
			}
			matches = append(matches, Match{
				Name:    string(k),
				Score:   cosine(queryVec, stored.Vector),
				Snippet: snippet(stored.Content),
			})
			return nil
		})
	})
	if err != nil {
		return nil, apperrors.NewSimilarityFailed("query", err)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}

	return matches, nil
}

func (l *LocalIndex) Delete(ctx context.Context, name string) error {
	err := l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(vectorBucket).Delete([]byte(name))
	})
	if err != nil {
		return apperrors.NewSimilarityFailed("delete", err)
	}

	l.logger.Debug("deleted embedding", zap.String("node", name))
	return nil
}

// Clear drops every stored vector. Used by full reindexes.
func (l *LocalIndex) Clear(ctx context.Context) error {
	err := l.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(vectorBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(vectorBucket)
		return err
	})
	if err != nil {
		return apperrors.NewSimilarityFailed("clear", err)
	}
	return nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
