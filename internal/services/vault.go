package services

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"incident-vault-sync/internal/common"
	"incident-vault-sync/internal/interfaces"

	"github.com/ternarybob/arbor"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// vault is the filesystem document store. Paths are slash-separated and
// relative to the vault root; content updates are whole-document atomic
// replaces (temp file + rename).
type vault struct {
	root   string
	logger arbor.ILogger
	parser goldmark.Markdown

	mu    sync.RWMutex
	index map[string]*cachedIndex
}

type cachedIndex struct {
	modTime  time.Time
	size     int64
	headings []interfaces.Heading
}

func NewVault(config *common.VaultConfig, logger arbor.ILogger) (interfaces.Vault, error) {
	if err := os.MkdirAll(config.Path, 0755); err != nil {
		return nil, common.WrapError(err, common.ErrorTypeVault, "root_unavailable",
			"failed to create vault root")
	}

	return &vault{
		root:   config.Path,
		logger: logger,
		parser: goldmark.New(),
		index:  make(map[string]*cachedIndex),
	}, nil
}

func (v *vault) abs(path string) string {
	return filepath.Join(v.root, filepath.FromSlash(path))
}

func (v *vault) Resolve(path string) *interfaces.Document {
	info, err := os.Stat(v.abs(path))
	if err != nil || info.IsDir() {
		return nil
	}
	return &interfaces.Document{Path: path, ModTime: info.ModTime(), Size: info.Size()}
}

func (v *vault) Read(doc *interfaces.Document) (string, error) {
	data, err := os.ReadFile(v.abs(doc.Path))
	if err != nil {
		return "", common.WrapError(err, common.ErrorTypeVault, "read_failed",
			"failed to read document").WithContext("path", doc.Path)
	}
	return string(data), nil
}

// Process applies a pure text transform and commits the result atomically.
// An unchanged result skips the write entirely.
func (v *vault) Process(doc *interfaces.Document, transform func(string) string) error {
	current, err := v.Read(doc)
	if err != nil {
		return err
	}

	updated := transform(current)
	if updated == current {
		return nil
	}

	if err := v.writeAtomic(doc.Path, updated); err != nil {
		return err
	}

	v.invalidate(doc.Path)
	return nil
}

func (v *vault) Create(path, content string) (*interfaces.Document, error) {
	parent := filepath.Dir(v.abs(path))
	if info, err := os.Stat(parent); err != nil || !info.IsDir() {
		return nil, common.NewVaultError("folder_missing",
			"parent folder does not exist").WithContext("path", path)
	}

	if err := v.writeAtomic(path, content); err != nil {
		return nil, err
	}

	return v.Resolve(path), nil
}

func (v *vault) CreateFolder(path string) error {
	if err := os.MkdirAll(v.abs(path), 0755); err != nil {
		return common.WrapError(err, common.ErrorTypeVault, "folder_create_failed",
			"failed to create folder").WithContext("path", path)
	}
	return nil
}

func (v *vault) ListFolder(prefix string) ([]*interfaces.Document, error) {
	root := v.abs(prefix)
	if _, err := os.Stat(root); err != nil {
		return []*interfaces.Document{}, nil
	}

	var docs []*interfaces.Document
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}

		rel, relErr := filepath.Rel(v.root, path)
		if relErr != nil {
			return nil
		}
		if doc := v.Resolve(filepath.ToSlash(rel)); doc != nil {
			docs = append(docs, doc)
		}
		return nil
	})
	if err != nil {
		return nil, common.WrapError(err, common.ErrorTypeVault, "list_failed",
			"failed to list folder").WithContext("prefix", prefix)
	}

	return docs, nil
}

// HeadingIndex returns the document's ordered (text, level, line) index,
// cached per file by mtime and size.
func (v *vault) HeadingIndex(doc *interfaces.Document) ([]interfaces.Heading, error) {
	info, err := os.Stat(v.abs(doc.Path))
	if err != nil {
		return nil, common.WrapError(err, common.ErrorTypeVault, "stat_failed",
			"failed to stat document").WithContext("path", doc.Path)
	}

	v.mu.RLock()
	cached, ok := v.index[doc.Path]
	v.mu.RUnlock()
	if ok && cached.modTime.Equal(info.ModTime()) && cached.size == info.Size() {
		return cached.headings, nil
	}

	source, err := os.ReadFile(v.abs(doc.Path))
	if err != nil {
		return nil, common.WrapError(err, common.ErrorTypeVault, "read_failed",
			"failed to read document").WithContext("path", doc.Path)
	}

	headings := v.parseHeadings(source)

	v.mu.Lock()
	v.index[doc.Path] = &cachedIndex{
		modTime:  info.ModTime(),
		size:     info.Size(),
		headings: headings,
	}
	v.mu.Unlock()

	return headings, nil
}

func (v *vault) parseHeadings(source []byte) []interfaces.Heading {
	node := v.parser.Parser().Parse(text.NewReader(source))

	headings := make([]interfaces.Heading, 0, 8)
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		h, ok := n.(*ast.Heading)
		if !ok || h.Lines().Len() == 0 {
			return ast.WalkContinue, nil
		}

		seg := h.Lines().At(0)
		line := bytes.Count(source[:seg.Start], []byte("\n"))

		// Only ATX headings participate in the index; setext-style matches
		// would also fire on YAML frontmatter delimiters.
		if !lineStartsWithHash(source, line) {
			return ast.WalkContinue, nil
		}

		headings = append(headings, interfaces.Heading{
			Text:  headingText(h, source),
			Level: h.Level,
			Line:  line,
		})
		return ast.WalkContinue, nil
	})

	return headings
}

func headingText(h *ast.Heading, source []byte) string {
	var buf bytes.Buffer
	for child := h.FirstChild(); child != nil; child = child.NextSibling() {
		if t, ok := child.(*ast.Text); ok {
			buf.Write(t.Segment.Value(source))
		}
	}
	return strings.TrimSpace(buf.String())
}

func lineStartsWithHash(source []byte, line int) bool {
	offset := 0
	for i := 0; i < line; i++ {
		next := bytes.IndexByte(source[offset:], '\n')
		if next < 0 {
			return false
		}
		offset += next + 1
	}
	rest := bytes.TrimLeft(source[offset:], " ")
	return len(rest) > 0 && rest[0] == '#'
}

func (v *vault) writeAtomic(path, content string) error {
	target := v.abs(path)
	dir := filepath.Dir(target)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return common.WrapError(err, common.ErrorTypeVault, "write_failed",
			"failed to create temp file").WithContext("path", path)
	}

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return common.WrapError(err, common.ErrorTypeVault, "write_failed",
			"failed to write temp file").WithContext("path", path)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return common.WrapError(err, common.ErrorTypeVault, "write_failed",
			"failed to close temp file").WithContext("path", path)
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return common.WrapError(err, common.ErrorTypeVault, "write_failed",
			"failed to replace document").WithContext("path", path)
	}

	return nil
}

func (v *vault) invalidate(path string) {
	v.mu.Lock()
	delete(v.index, path)
	v.mu.Unlock()
}
