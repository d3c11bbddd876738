package indexer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/actasearch/pkg/models"
)

// ErrNoText is returned for documents that yield no extractable text,
// typically scanned PDFs without a text layer.
var ErrNoText = errors.New("no text extracted")

// FileSystemWalker defines the interface for walking directories
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// TextReader turns a document file into plain text.
type TextReader interface {
	ReadText(path string) (string, error)
}

// Ingester is the write side of the incident service.
type Ingester interface {
	Ingest(ctx context.Context, text, filename string) (models.IncidentDocument, error)
}

// DefaultFileSystemWalker implements FileSystemWalker using godirwalk
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// Report counts the outcome of a Run.
type Report struct {
	Ingested int `json:"ingested"`
	Failed   int `json:"failed"`
}

// Indexer ingests every supported document under a directory.
type Indexer struct {
	Ingester Ingester
	Root     string
	Workers  int
	Walker   FileSystemWalker
	Reader   TextReader
}

// New creates a new Indexer reading PDF and text files from root.
func New(ing Ingester, root string, workers int) *Indexer {
	return NewWithDependencies(ing, root, workers, &DefaultFileSystemWalker{}, &DefaultTextReader{})
}

// NewWithDependencies creates a new Indexer instance with custom dependencies for testing
func NewWithDependencies(ing Ingester, root string, workers int, walker FileSystemWalker, reader TextReader) *Indexer {
	return &Indexer{
		Ingester: ing,
		Root:     root,
		Workers:  workers,
		Walker:   walker,
		Reader:   reader,
	}
}

func (ix *Indexer) workers() int {
	if ix.Workers > 0 {
		return ix.Workers
	}
	// cap to avoid overwhelming the embedding API
	return min(runtime.NumCPU(), 4)
}

// processFile reads and ingests one document.
func (ix *Indexer) processFile(ctx context.Context, path string) error {
	text, err := ix.Reader.ReadText(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("read %s: %w", path, ErrNoText)
	}

	doc, err := ix.Ingester.Ingest(ctx, text, filepath.Base(path))
	if err != nil {
		return err
	}
	log.Info().
		Str("path", rel(ix.Root, path)).
		Str("incident_number", doc.IncidentNumber).
		Str("severity", string(doc.Severity)).
		Msg("indexed document")
	return nil
}

// Run walks Root and ingests supported files with a bounded worker pool.
// Per-file failures are logged and counted; only walk errors and context
// cancellation are returned.
func (ix *Indexer) Run(ctx context.Context) (Report, error) {
	numWorkers := ix.workers()
	log.Info().Int("workers", numWorkers).Str("root", ix.Root).Msg("starting concurrent indexing")

	var ingested, failed atomic.Int64
	workChan := make(chan string, numWorkers*2)

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			log.Debug().Int("worker", workerID).Msg("worker started")
			for path := range workChan {
				if err := ix.processFile(ctx, path); err != nil {
					failed.Add(1)
					log.Error().Err(err).Str("path", path).Msg("failed to index document")
					continue
				}
				ingested.Add(1)
			}
			log.Debug().Int("worker", workerID).Msg("worker finished")
		}(i)
	}

	walkErr := ix.Walker.Walk(ix.Root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de != nil && de.IsDir() {
				if skipDir(path) {
					return godirwalk.SkipThis
				}
				return nil
			}
			if !Supported(path) {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			select {
			case workChan <- path:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})

	close(workChan)
	wg.Wait()

	report := Report{Ingested: int(ingested.Load()), Failed: int(failed.Load())}
	log.Info().Int("ingested", report.Ingested).Int("failed", report.Failed).Msg("indexing finished")
	return report, walkErr
}

// Supported reports whether path has an extension the indexer can read.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf", ".txt":
		return true
	}
	return false
}

func skipDir(path string) bool {
	base := filepath.Base(path)
	switch base {
	case ".git", "node_modules", ".cache", "__MACOSX":
		return true
	}
	return false
}

func rel(root, p string) string {
	r, err := filepath.Rel(root, p)
	if err != nil {
		return p
	}
	return r
}
