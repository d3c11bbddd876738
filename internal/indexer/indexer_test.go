package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog"
	"github.com/seanblong/actasearch/pkg/models"
)

func init() {
	// Suppress logs during testing
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// MockIngester implements Ingester for testing
type MockIngester struct {
	mu         sync.Mutex
	IngestFunc func(ctx context.Context, text, filename string) (models.IncidentDocument, error)
	Filenames  []string
}

func (m *MockIngester) Ingest(ctx context.Context, text, filename string) (models.IncidentDocument, error) {
	m.mu.Lock()
	m.Filenames = append(m.Filenames, filename)
	m.mu.Unlock()
	if m.IngestFunc != nil {
		return m.IngestFunc(ctx, text, filename)
	}
	return models.IncidentDocument{IncidentNumber: "AC1"}, nil
}

// MockFileSystemWalker implements FileSystemWalker for testing. It calls the
// callback with a nil Dirent for every listed path.
type MockFileSystemWalker struct {
	FilesToProcess []string
	WalkError      error
}

func (m *MockFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	if m.WalkError != nil {
		return m.WalkError
	}
	for _, p := range m.FilesToProcess {
		if err := options.Callback(p, nil); err != nil {
			return err
		}
	}
	return nil
}

// MockTextReader implements TextReader for testing
type MockTextReader struct {
	Files map[string]string
}

func (m *MockTextReader) ReadText(path string) (string, error) {
	if content, ok := m.Files[path]; ok {
		return content, nil
	}
	return "", errors.New("file not found")
}

func TestIndexer_Run(t *testing.T) {
	tests := []struct {
		name         string
		walkFiles    []string
		files        map[string]string
		ingestErr    map[string]error
		walkErr      error
		wantReport   Report
		wantIngested []string
		wantErr      bool
	}{
		{
			name:         "pdf and txt are ingested",
			walkFiles:    []string{"/actas/AC1.pdf", "/actas/sub/AC2.TXT"},
			files:        map[string]string{"/actas/AC1.pdf": "acta uno", "/actas/sub/AC2.TXT": "acta dos"},
			wantReport:   Report{Ingested: 2},
			wantIngested: []string{"AC1.pdf", "AC2.TXT"},
		},
		{
			name:         "unsupported files are skipped",
			walkFiles:    []string{"/actas/AC1.pdf", "/actas/logo.png", "/actas/notas.docx"},
			files:        map[string]string{"/actas/AC1.pdf": "acta uno"},
			wantReport:   Report{Ingested: 1},
			wantIngested: []string{"AC1.pdf"},
		},
		{
			name:         "unreadable and empty files are counted as failures",
			walkFiles:    []string{"/actas/missing.pdf", "/actas/scan.pdf", "/actas/ok.txt"},
			files:        map[string]string{"/actas/scan.pdf": "  \n ", "/actas/ok.txt": "contenido"},
			wantReport:   Report{Ingested: 1, Failed: 2},
			wantIngested: []string{"ok.txt"},
		},
		{
			name:         "ingest errors do not stop the run",
			walkFiles:    []string{"/actas/a.txt", "/actas/b.txt"},
			files:        map[string]string{"/actas/a.txt": "a", "/actas/b.txt": "b"},
			ingestErr:    map[string]error{"a.txt": errors.New("embedding provider down")},
			wantReport:   Report{Ingested: 1, Failed: 1},
			wantIngested: []string{"a.txt", "b.txt"},
		},
		{
			name:       "walk error is returned",
			walkErr:    errors.New("permission denied"),
			wantReport: Report{},
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing := &MockIngester{IngestFunc: func(_ context.Context, _ string, filename string) (models.IncidentDocument, error) {
				if err := tt.ingestErr[filename]; err != nil {
					return models.IncidentDocument{}, err
				}
				return models.IncidentDocument{IncidentNumber: "AC-" + filename}, nil
			}}
			ix := NewWithDependencies(ing, "/actas", 3,
				&MockFileSystemWalker{FilesToProcess: tt.walkFiles, WalkError: tt.walkErr},
				&MockTextReader{Files: tt.files})

			report, err := ix.Run(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Run() error = %v, wantErr %v", err, tt.wantErr)
			}
			if report != tt.wantReport {
				t.Errorf("report = %+v, want %+v", report, tt.wantReport)
			}

			got := append([]string(nil), ing.Filenames...)
			sort.Strings(got)
			if len(got) != len(tt.wantIngested) {
				t.Fatalf("ingested %v, want %v", got, tt.wantIngested)
			}
			for i := range got {
				if got[i] != tt.wantIngested[i] {
					t.Errorf("ingested %v, want %v", got, tt.wantIngested)
					break
				}
			}
		})
	}
}

func TestIndexer_RunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	files := make([]string, 50)
	contents := make(map[string]string, len(files))
	for i := range files {
		files[i] = filepath.Join("/actas", string(rune('a'+i%26))+string(rune('a'+i/26))+".txt")
		contents[files[i]] = "texto"
	}
	ix := NewWithDependencies(&MockIngester{}, "/actas", 1,
		&MockFileSystemWalker{FilesToProcess: files}, &MockTextReader{Files: contents})

	_, err := ix.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestNew(t *testing.T) {
	ix := New(&MockIngester{}, "/actas", 0)
	if _, ok := ix.Walker.(*DefaultFileSystemWalker); !ok {
		t.Errorf("unexpected walker %T", ix.Walker)
	}
	if _, ok := ix.Reader.(*DefaultTextReader); !ok {
		t.Errorf("unexpected reader %T", ix.Reader)
	}
	if n := ix.workers(); n < 1 || n > 4 {
		t.Errorf("workers() = %d", n)
	}
}

func TestSupported(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"acta.pdf", true},
		{"ACTA.PDF", true},
		{"notas.txt", true},
		{"informe.docx", false},
		{"imagen.png", false},
		{"sin_extension", false},
	}
	for _, tt := range tests {
		if got := Supported(tt.path); got != tt.want {
			t.Errorf("Supported(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestSkipDir(t *testing.T) {
	if !skipDir("/actas/.git") || !skipDir("/actas/node_modules") {
		t.Error("expected VCS and dependency directories to be skipped")
	}
	if skipDir("/actas/2024") {
		t.Error("regular directory should not be skipped")
	}
}

func TestReadText(t *testing.T) {
	dir := t.TempDir()

	txt := filepath.Join(dir, "AC1.txt")
	if err := os.WriteFile(txt, []byte("ACTA AC1\nválvula\xff"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := ReadText(txt)
	if err != nil {
		t.Fatalf("ReadText() error: %v", err)
	}
	if got != "ACTA AC1\nválvula�" {
		t.Errorf("ReadText() = %q", got)
	}

	if _, err := ReadText(filepath.Join(dir, "nota.docx")); err == nil {
		t.Error("expected error for unsupported extension")
	}
	if _, err := ReadText(filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(dir, "broken.pdf")
	if err := os.WriteFile(bad, []byte("not a pdf"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadText(bad); err == nil {
		t.Error("expected error for invalid pdf")
	}
}

func TestRun_RealDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	for name, content := range map[string]string{
		"AC1.txt":      "acta uno",
		"AC2.txt":      "acta dos",
		".git/AC3.txt": "ignorado",
		"foto.jpg":     "binario",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	ing := &MockIngester{}
	report, err := New(ing, dir, 2).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if report.Ingested != 2 || report.Failed != 0 {
		t.Errorf("report = %+v", report)
	}
}
