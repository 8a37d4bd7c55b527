// Package export renders a document with its annotations to HTML or PDF
// and optionally uploads the artifact to object storage.
package export

import (
	"errors"
	"time"

	"chronicle/annotations/internal/annotation"
	"chronicle/annotations/internal/doc"
	"chronicle/annotations/internal/suggest"
)

type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

type Request struct {
	Format             Format
	IncludeThreads     bool
	IncludeSuggestions bool
	Upload             bool
	// Paper and Landscape apply to PDF output only.
	Paper     Paper
	Landscape bool
}

// Field is one rich-text field with its annotations. Diffs holds the
// resolvable diff of each pending suggestion.
type Field struct {
	Path  string
	Nodes []*doc.Node
	State annotation.State
	Diffs map[annotation.ID]suggest.Diff
}

type Document struct {
	ID        string
	Title     string
	Author    string
	UpdatedAt time.Time
	Fields    []Field
}

type Result struct {
	Data     []byte `json:"-"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	URL      string `json:"url,omitempty"`
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	ErrUploadUnavailable    = errors.New("export upload not configured")
	ErrUnsupportedFormat    = errors.New("unsupported export format")
	ErrUnsupportedPaper     = errors.New("unsupported paper size")
)
