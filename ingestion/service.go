package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	stdpath "path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 0
)

// ErrNoDocuments is returned when a directory holds no usable text.
var ErrNoDocuments = errors.New("no documents found")

// documentNamespace seeds deterministic document IDs.
var documentNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/fabfab/docbot/documents"))

type Document struct {
	ID      string
	Path    string
	Title   string
	Folder  string
	Format  DocumentFormat
	Content string
	SHA256  string
}

type Chunk struct {
	ID         string
	DocumentID string
	Index      int
	Path       string
	Title      string
	Content    string
}

type Service struct {
	logger       *log.Logger
	chunkSize    int
	chunkOverlap int
}

func NewService(logger *log.Logger, chunkSize, chunkOverlap int) *Service {
	if logger == nil {
		logger = log.Default()
	}
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = defaultChunkOverlap
	}

	return &Service{
		logger:       logger,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// LoadDirectory reads every supported file below dir in lexical order.
func (s *Service) LoadDirectory(ctx context.Context, dir string) ([]Document, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("data directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("data directory: %s is not a directory", dir)
	}

	paths := make([]string, 0)
	if err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		switch {
		case d.Type().IsRegular():
			paths = append(paths, path)
		case d.Type()&fs.ModeSymlink != 0:
			// Symlinked files are followed, symlinked directories are not.
			info, err := os.Stat(path)
			if err != nil {
				s.logger.Printf("skip %s: %v", path, err)
				return nil
			}
			if !info.Mode().IsRegular() {
				s.logger.Printf("skip %s: symlink target is not a regular file", path)
				return nil
			}
			paths = append(paths, path)
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("walk data directory: %w", err)
	}

	documents := make([]Document, 0, len(paths))
	for _, path := range paths {
		doc, ok, err := s.loadFile(dir, path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		if !ok {
			continue
		}
		documents = append(documents, doc)
	}

	if len(documents) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoDocuments, dir)
	}

	s.logger.Printf("loaded %d documents from %s", len(documents), dir)
	return documents, nil
}

func (s *Service) loadFile(root, path string) (Document, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, false, fmt.Errorf("read file: %w", err)
	}

	relPath, relErr := filepath.Rel(root, path)
	if relErr != nil {
		relPath = path
	}
	relPath = filepath.ToSlash(relPath)

	format := DetectFormat(path, data)
	parse, ok := parsers[format]
	if !ok {
		s.logger.Printf("skip %s: not a text document", relPath)
		return Document{}, false, nil
	}

	parsed, err := parse(path, data)
	if err != nil {
		return Document{}, false, err
	}
	if strings.TrimSpace(parsed.Content) == "" {
		s.logger.Printf("skip empty document %s", relPath)
		return Document{}, false, nil
	}

	folder := stdpath.Dir(relPath)
	if folder == "." || folder == "/" {
		folder = ""
	}
	hash := sha256.Sum256(data)

	return Document{
		ID:      DocumentID(relPath),
		Path:    relPath,
		Title:   parsed.Title,
		Folder:  folder,
		Format:  format,
		Content: parsed.Content,
		SHA256:  hex.EncodeToString(hash[:]),
	}, true, nil
}

// Chunk splits a document into paragraph-aligned chunks.
func (s *Service) Chunk(doc Document) []Chunk {
	texts := ChunkText(doc.Content, s.chunkSize, s.chunkOverlap)
	chunks := make([]Chunk, len(texts))
	for idx, text := range texts {
		chunks[idx] = Chunk{
			ID:         ChunkID(doc.ID, idx),
			DocumentID: doc.ID,
			Index:      idx,
			Path:       doc.Path,
			Title:      doc.Title,
			Content:    text,
		}
	}
	return chunks
}

// DocumentID derives a stable UUID from a slash separated relative path.
func DocumentID(relPath string) string {
	return uuid.NewSHA1(documentNamespace, []byte(relPath)).String()
}

// ChunkID derives a stable UUID from the owning document and chunk position.
func ChunkID(documentID string, index int) string {
	ns, err := uuid.Parse(documentID)
	if err != nil {
		ns = uuid.NewSHA1(documentNamespace, []byte(documentID))
	}
	return uuid.NewSHA1(ns, []byte(strconv.Itoa(index))).String()
}

// ChunkText packs paragraphs into chunks of at most target characters. A
// paragraph longer than target becomes a chunk of its own. When overlap is
// positive the last paragraph of a chunk is repeated at the start of the next.
func ChunkText(content string, target, overlap int) []string {
	clean := strings.ReplaceAll(content, "\r\n", "\n")
	paragraphs := strings.Split(clean, "\n\n")
	chunks := make([]string, 0)
	current := make([]string, 0)
	currentLen := 0

	for _, paragraph := range paragraphs {
		p := strings.TrimSpace(paragraph)
		if p == "" {
			continue
		}

		paragraphLen := len(p)
		if len(current) > 0 && currentLen+paragraphLen > target {
			chunks = append(chunks, strings.Join(current, "\n\n"))
			last := current[len(current)-1]
			current = current[:0]
			currentLen = 0
			if overlap > 0 && len(last)+paragraphLen <= target {
				current = append(current, last)
				currentLen = len(last)
			}
		}

		current = append(current, p)
		currentLen += paragraphLen
	}

	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, "\n\n"))
	}

	return chunks
}
