// Package engine owns the orchestrated write path: every mutation runs in
// an isolated writer session, reaches trunk through the serialized merge
// gate, and only after a successful merge fans out to the similarity index
// and the in-memory graph index.
package engine

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"loom/internal/graph"
	"loom/internal/index"
	"loom/internal/session"
	"loom/internal/similarity"
	"loom/internal/tools"
	"loom/internal/vcs"
	apperrors "loom/pkg/errors"
)

// WriteFunc runs inside a writer session. It sees and mutates only the
// session's sandbox and returns the commit message for the work it did.
type WriteFunc func(ctx context.Context, w *tools.Writer) (message string, err error)

// Event is an external occurrence to record in the graph.
type Event struct {
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata"`
}

type Engine struct {
	trunk    *graph.Store
	sessions *session.Manager
	index    *index.Index
	backend  vcs.Backend
	sim      similarity.Index
	syncer   *similarity.Syncer
	logger   *zap.Logger
}

// New wires the write path together. sim and syncer may both be nil, which
// disables similarity effects without touching the rest of the path.
func New(
	trunk *graph.Store,
	sessions *session.Manager,
	idx *index.Index,
	backend vcs.Backend,
	sim similarity.Index,
	syncer *similarity.Syncer,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		trunk:    trunk,
		sessions: sessions,
		index:    idx,
		backend:  backend,
		sim:      sim,
		syncer:   syncer,
		logger:   logger,
	}
}

// Reader returns the read-side toolset over trunk.
func (e *Engine) Reader() *tools.Reader {
	return tools.NewReader(e.trunk, e.sim, e.backend, e.sessions.Root())
}

// Index returns the live graph index.
func (e *Engine) Index() *index.Index {
	return e.index
}

// SimilarityEnabled reports whether a similarity index is wired in.
func (e *Engine) SimilarityEnabled() bool {
	return e.sim != nil
}

// Node returns the trunk view of a node. Content and metadata come off the
// trunk store; the link fields are answered by the graph index, which the
// write path keeps current, instead of a body scan per request.
func (e *Engine) Node(name string) (tools.NodeView, error) {
	content, err := e.trunk.Read(name)
	if err != nil {
		return tools.NodeView{}, err
	}
	metadata, _ := graph.SplitFrontmatter(content)
	return tools.NodeView{
		Name:      name,
		Content:   content,
		Outlinks:  e.index.Outlinks(name),
		Backlinks: e.index.Backlinks(name),
		Metadata:  metadata,
	}, nil
}

// Write runs fn in a fresh writer session and merges its work into trunk.
// On success the similarity index and the graph index are brought up to
// date before returning; a post-merge similarity failure is logged, not
// raised, since trunk has already advanced. On any failure, including a
// merge conflict, trunk and both indexes are left untouched and the
// session's branch is discarded.
func (e *Engine) Write(ctx context.Context, fn WriteFunc) (*vcs.MergeResult, error) {
	sess, err := e.sessions.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer e.sessions.Abort(ctx, sess)

	w := tools.NewWriter(sess.Store(), e.sim, e.backend, sess.Dir())
	message, err := fn(ctx, w)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(message) == "" {
		message = "update graph"
	}

	res, err := e.sessions.End(ctx, sess, message)
	if err != nil {
		return res, err
	}

	if e.syncer != nil {
		if err := e.syncer.Apply(ctx, res.Changed); err != nil {
			e.logger.Warn("similarity sync failed after merge",
				zap.String("revision", res.Revision),
				zap.Error(err),
			)
		}
	}
	if err := e.index.ApplyChangedFiles(res.Changed); err != nil {
		return res, err
	}

	return res, nil
}

// Ingest records an external event as a fresh node through the standard
// write path and returns the node's name.
func (e *Engine) Ingest(ctx context.Context, event Event) (string, *vcs.MergeResult, error) {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	name := eventNodeName(ts)
	content := renderEventNode(name, event.Content, ts, event.Metadata)

	res, err := e.Write(ctx, func(ctx context.Context, w *tools.Writer) (string, error) {
		if err := w.WriteNode(name, content); err != nil {
			return "", err
		}
		return "ingest " + name, nil
	})
	if err != nil {
		return "", res, err
	}
	return name, res, nil
}

// Reindex rebuilds the similarity index from the full trunk node set.
func (e *Engine) Reindex(ctx context.Context) (int, error) {
	if e.syncer == nil {
		return 0, apperrors.NewSimilarityFailed("reindex", errors.New("similarity is disabled"))
	}
	return e.syncer.ReindexAll(ctx)
}

// eventNodeName composes a date-stamped name with a short random suffix,
// unique enough for concurrent ingests on the same day.
func eventNodeName(ts time.Time) string {
	return "event-" + ts.Format("2006-01-02") + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}

// renderEventNode lays the event out as frontmatter plus a fenced copy of
// the raw content.
func renderEventNode(name, content string, ts time.Time, metadata map[string]string) string {
	lines := []string{"type: event", "timestamp: " + ts.Format(time.RFC3339)}

	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, k+": "+metadata[k])
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n---\n\n")
	b.WriteString("# Event: " + name + "\n\n")
	b.WriteString("```\n" + content + "\n```")
	return b.String()
}
