package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"loom/internal/engine"
	"loom/internal/graph"
	"loom/internal/index"
	"loom/internal/session"
	"loom/internal/similarity"
	"loom/internal/tools"
	"loom/internal/vcs"
	"loom/pkg/config"
	apperrors "loom/pkg/errors"
	"loom/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	// Initialize logger
	if err := logger.Init(cfg.Env); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting graph store server...")

	ctx := context.Background()

	// Initialize trunk repository
	backend := vcs.NewGit(log)
	if err := backend.InitIfAbsent(ctx, cfg.GraphRoot); err != nil {
		log.Fatal("Failed to initialize graph repository", zap.Error(err))
	}

	trunk := graph.NewStore(filepath.Join(cfg.GraphRoot, graph.NodesDir))
	sessions := session.NewManager(cfg.GraphRoot, backend, log)

	// Build the in-memory graph index from trunk
	idx := index.New(trunk, log)
	if err := idx.Build(); err != nil {
		log.Fatal("Failed to build graph index", zap.Error(err))
	}

	// Similarity backend
	var sim similarity.Index
	switch cfg.SimilarityBackend {
	case config.SimilarityOff:
		log.Info("Similarity indexing disabled")

	case config.SimilarityLocal:
		embedder := similarity.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.EmbeddingModel)
		local, err := similarity.NewLocalIndex(filepath.Join(cfg.GraphRoot, "_index", "vectors.db"), embedder)
		if err != nil {
			log.Fatal("Failed to open local similarity index", zap.Error(err))
		}
		defer local.Close()
		sim = local

	case config.SimilarityNeo4j:
		driver, err := neo4j.NewDriverWithContext(
			cfg.Neo4jURI,
			neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""),
		)
		if err != nil {
			log.Fatal("Failed to create Neo4j driver", zap.Error(err))
		}
		defer driver.Close(context.Background())

		if err := driver.VerifyConnectivity(ctx); err != nil {
			log.Fatal("Failed to verify Neo4j connectivity", zap.Error(err))
		}

		embedder := similarity.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.EmbeddingModel)
		sim = similarity.NewNeo4jIndex(driver, embedder)
	}

	var syncer *similarity.Syncer
	if sim != nil {
		syncer = similarity.NewSyncer(trunk, sim, cfg.EmbedConcurrency)
	}

	eng := engine.New(trunk, sessions, idx, backend, sim, syncer, log)

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := newRouter(eng, log)

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.String("port", cfg.Port), zap.String("graph_root", cfg.GraphRoot))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}

// newRouter wires every endpoint onto a fresh Gin engine.
func newRouter(eng *engine.Engine, log *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	reader := eng.Reader()

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Ingest an external event as a new node
	router.POST("/ingest", func(c *gin.Context) {
		ctx := c.Request.Context()

		var req struct {
			Content   string            `json:"content" binding:"required"`
			Timestamp time.Time         `json:"timestamp"`
			Metadata  map[string]string `json:"metadata"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		name, res, err := eng.Ingest(ctx, engine.Event{
			Content:   req.Content,
			Timestamp: req.Timestamp,
			Metadata:  req.Metadata,
		})
		if err != nil {
			writeError(c, log, err, "Failed to ingest event")
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"node":          name,
			"revision":      res.Revision,
			"changed_files": res.Changed,
		})
	})

	// Read a node with its link structure, served off the graph index
	router.GET("/nodes/:name", func(c *gin.Context) {
		view, err := eng.Node(c.Param("name"))
		if err != nil {
			writeError(c, log, err, "Failed to read node")
			return
		}
		c.JSON(http.StatusOK, view)
	})

	// Create a node through the write path
	router.POST("/nodes/:name", func(c *gin.Context) {
		ctx := c.Request.Context()
		name := c.Param("name")

		var req struct {
			Content string `json:"content" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		res, err := eng.Write(ctx, func(ctx context.Context, w *tools.Writer) (string, error) {
			if err := w.CreateNode(name, req.Content); err != nil {
				return "", err
			}
			return "create " + name, nil
		})
		if err != nil {
			writeError(c, log, err, "Failed to create node")
			return
		}

		c.JSON(http.StatusCreated, gin.H{"node": name, "revision": res.Revision})
	})

	// Update a node through the write path
	router.PUT("/nodes/:name", func(c *gin.Context) {
		ctx := c.Request.Context()
		name := c.Param("name")

		var req struct {
			Content string `json:"content" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		res, err := eng.Write(ctx, func(ctx context.Context, w *tools.Writer) (string, error) {
			if err := w.UpdateNode(name, req.Content); err != nil {
				return "", err
			}
			return "update " + name, nil
		})
		if err != nil {
			writeError(c, log, err, "Failed to update node")
			return
		}

		c.JSON(http.StatusOK, gin.H{"node": name, "revision": res.Revision})
	})

	// Keyword search over node content
	router.GET("/search", func(c *gin.Context) {
		query := c.Query("q")
		if query == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing query parameter 'q'"})
			return
		}

		names, err := reader.SearchByKeyword(query)
		if err != nil {
			writeError(c, log, err, "Failed to search nodes")
			return
		}
		c.JSON(http.StatusOK, gin.H{"results": names})
	})

	// Nearest-neighbor search over the similarity index
	router.GET("/similar", func(c *gin.Context) {
		ctx := c.Request.Context()

		query := c.Query("q")
		if query == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing query parameter 'q'"})
			return
		}
		topK, err := strconv.Atoi(c.DefaultQuery("k", "5"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query parameter 'k'"})
			return
		}

		matches, err := reader.SearchBySimilarity(ctx, query, topK)
		if err != nil {
			writeError(c, log, err, "Failed to query similarity index")
			return
		}
		c.JSON(http.StatusOK, gin.H{"results": matches})
	})

	// Export graph for visualization: nodes + edges + analytics
	router.GET("/graph", func(c *gin.Context) {
		c.JSON(http.StatusOK, eng.Index().Export())
	})

	// Trunk history with changed files per commit, for the timeline slider
	router.GET("/graph/commits", func(c *gin.Context) {
		ctx := c.Request.Context()

		limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query parameter 'limit'"})
			return
		}

		commits, err := reader.RecentChanges(ctx, c.Query("since"), limit)
		if err != nil {
			writeError(c, log, err, "Failed to read history")
			return
		}
		c.JSON(http.StatusOK, commits)
	})

	// Rebuild the similarity index from trunk
	router.POST("/reindex", func(c *gin.Context) {
		ctx := c.Request.Context()

		if !eng.SimilarityEnabled() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "similarity is disabled"})
			return
		}

		indexed, err := eng.Reindex(ctx)
		if err != nil {
			writeError(c, log, err, "Failed to reindex")
			return
		}
		c.JSON(http.StatusOK, gin.H{"indexed": indexed})
	})

	return router
}

// writeError maps the error taxonomy onto HTTP statuses: normal negative
// outcomes keep their detail, everything else is logged and collapsed to a
// generic 500.
func writeError(c *gin.Context, log *zap.Logger, err error, msg string) {
	var conflict *apperrors.ErrMergeConflict
	var invalid *apperrors.ErrInvalidName

	switch {
	case apperrors.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case apperrors.IsAlreadyExists(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": "merge conflict", "conflicts": conflict.Nodes})
	case errors.As(err, &invalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Error(msg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}

// ginLogger is a custom logger middleware for Gin
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
