// Package ingest runs the background workload: scrape candidate
// sources, split them into chunks, embed the chunks and upsert them
// into the vector index. Failures are contained and logged; an
// ingestion error never terminates the process.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"newsrag-gateway/internal/retrieval"
)

const fetchConcurrency = 4

// Ingestor wires the scraper to the embedding and index collaborators.
type Ingestor struct {
	scraper   *Scraper
	embedder  retrieval.Embedder
	index     retrieval.Index
	chunkSize int
	logger    *zap.Logger
}

func NewIngestor(scraper *Scraper, embedder retrieval.Embedder, index retrieval.Index, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		scraper:   scraper,
		embedder:  embedder,
		index:     index,
		chunkSize: DefaultChunkSize,
		logger:    logger.Named("ingest"),
	}
}

// Run supervises periodic ingestion: one run at start, then one per
// interval until ctx is cancelled. Each run is contained: a panic or
// error is logged and the next tick proceeds.
func (g *Ingestor) Run(ctx context.Context, interval time.Duration) {
	g.runContained(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("ingestion supervisor stopping")
			return
		case <-ticker.C:
			g.runContained(ctx)
		}
	}
}

func (g *Ingestor) runContained(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			g.logger.Error("ingestion run panicked", zap.Any("panic", rec))
		}
	}()

	if err := g.RunOnce(ctx); err != nil {
		g.logger.Error("ingestion run failed", zap.Error(err))
	}
}

// RunOnce performs one ingestion pass. Idempotent: chunk IDs are
// derived from source and position, so re-upserting overwrites in
// place. Per-article failures are logged and skipped.
func (g *Ingestor) RunOnce(ctx context.Context) error {
	start := time.Now()

	links, err := g.scraper.FrontierLinks(ctx)
	if err != nil {
		return fmt.Errorf("frontier: %w", err)
	}
	if len(links) == 0 {
		g.logger.Warn("frontier is empty, nothing to ingest")
		return nil
	}

	articles := make([]string, len(links))
	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(fetchConcurrency)

	var mu sync.Mutex
	failed := 0

	for i, link := range links {
		i, link := i, link
		grp.Go(func() error {
			text, err := g.scraper.Article(grpCtx, link)
			if err != nil {
				g.logger.Warn("article skipped", zap.String("url", link), zap.Error(err))
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			articles[i] = text
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return fmt.Errorf("fetch articles: %w", err)
	}

	indexed := 0
	for i, link := range links {
		if articles[i] == "" {
			continue
		}
		n, err := g.indexArticle(ctx, link, articles[i])
		if err != nil {
			g.logger.Warn("article not indexed", zap.String("url", link), zap.Error(err))
			continue
		}
		indexed += n
	}

	g.logger.Info("ingestion run completed",
		zap.Int("links", len(links)),
		zap.Int("failed_fetches", failed),
		zap.Int("chunks_indexed", indexed),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

func (g *Ingestor) indexArticle(ctx context.Context, sourceID, text string) (int, error) {
	chunks := Split(text, g.chunkSize)
	if len(chunks) == 0 {
		return 0, nil
	}

	srcHash := sha256.Sum256([]byte(sourceID))
	srcID := hex.EncodeToString(srcHash[:8])

	entries := make([]retrieval.IndexEntry, 0, len(chunks))
	for i, chunk := range chunks {
		vector, err := g.embedder.Embed(ctx, chunk)
		if err != nil {
			return 0, fmt.Errorf("embed chunk %d: %w", i, err)
		}
		entries = append(entries, retrieval.IndexEntry{
			ID:       fmt.Sprintf("doc_%s_%d", srcID, i),
			Vector:   vector,
			Content:  chunk,
			SourceID: sourceID,
		})
	}

	if err := g.index.Upsert(ctx, entries); err != nil {
		return 0, fmt.Errorf("upsert: %w", err)
	}
	return len(entries), nil
}
