// Package materialize writes attachment bytes to the archive directory.
package materialize

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	"mailingest-engine/internal/domain"
	"mailingest-engine/internal/graph"
)

// Names is the data a filename template is executed with.
type Names struct {
	Message    graph.Message
	Attachment graph.Attachment
}

var funcs = template.FuncMap{
	"clean": Clean,
}

type Materializer struct {
	dir  string
	tmpl *template.Template
}

// New returns a materializer rooted at dir. filename is a text/template over
// Names; its output is a path relative to dir.
func New(dir, filename string) (*Materializer, error) {
	t, err := template.New("filename").Funcs(funcs).Option("missingkey=error").Parse(filename)
	if err != nil {
		return nil, fmt.Errorf("filename template: %w", err)
	}
	return &Materializer{dir: dir, tmpl: t}, nil
}

func (m *Materializer) Dir() string { return m.dir }

// Path renders the target path for an attachment. The result always lies
// inside the archive directory.
func (m *Materializer) Path(msg graph.Message, att graph.Attachment) (string, error) {
	var b bytes.Buffer
	if err := m.tmpl.Execute(&b, Names{Message: msg, Attachment: att}); err != nil {
		return "", fmt.Errorf("%w: render filename: %v", domain.ErrFilesystem, err)
	}
	rel := strings.TrimSpace(b.String())
	if rel == "" {
		rel = Clean(att.Name)
	}
	if rel == "" {
		rel = "attachment"
	}

	p := filepath.Join(m.dir, filepath.FromSlash(rel))
	r, err := filepath.Rel(m.dir, p)
	if err != nil || r == "." || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: filename %q escapes %s", domain.ErrFilesystem, rel, m.dir)
	}
	return p, nil
}

// Save writes data to a free variant of path and returns where it went.
// Parent directories are created.
func (m *Materializer) Save(data []byte, path string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("%w: create %s: %v", domain.ErrFilesystem, filepath.Dir(path), err)
	}

	for attempt := 0; attempt < 10; attempt++ {
		target, err := UniquePath(path)
		if err != nil {
			return "", err
		}
		f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue // lost a race for the name
		}
		if err != nil {
			return "", fmt.Errorf("%w: create %s: %v", domain.ErrFilesystem, target, err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			os.Remove(target)
			return "", fmt.Errorf("%w: write %s: %v", domain.ErrFilesystem, target, err)
		}
		if err := f.Close(); err != nil {
			os.Remove(target)
			return "", fmt.Errorf("%w: close %s: %v", domain.ErrFilesystem, target, err)
		}
		return target, nil
	}
	return "", fmt.Errorf("%w: no free name for %s", domain.ErrFilesystem, path)
}

// UniquePath returns path if nothing exists there, otherwise the first free
// "root.N.ext" with N counting from 0.
func UniquePath(path string) (string, error) {
	ext := filepath.Ext(path)
	root := strings.TrimSuffix(path, ext)

	test := path
	for i := 0; ; i++ {
		_, err := os.Lstat(test)
		if errors.Is(err, os.ErrNotExist) {
			return test, nil
		}
		if err != nil {
			return "", fmt.Errorf("%w: stat %s: %v", domain.ErrFilesystem, test, err)
		}
		test = root + "." + strconv.Itoa(i) + ext
	}
}

// Clean makes s safe as a single path element.
func Clean(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|':
			return '_'
		case r == '\t' || r == '\n' || r == '\r':
			return ' '
		case r < 0x20 || r == 0x7f:
			return -1
		}
		return r
	}, s)
	s = strings.Join(strings.Fields(s), " ")
	s = strings.Trim(s, ". ")
	return s
}
