package export

import (
	"context"
	"fmt"
	"html/template"
	"time"

	"chronicle/annotations/internal/annotation"
	"chronicle/annotations/internal/logger"
)

// PDFRenderer prints a job to PDF bytes.
type PDFRenderer func(ctx context.Context, job PrintJob) ([]byte, error)

type Option func(*Service)

func WithPDFRenderer(fn PDFRenderer) Option {
	return func(s *Service) { s.pdf = fn }
}

func WithUploader(u Uploader) Option {
	return func(s *Service) { s.uploader = u }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

type Service struct {
	pdf      PDFRenderer
	uploader Uploader
	log      *logger.Logger
	now      func() time.Time
}

func NewService(log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.Nop()
	}
	s := &Service{pdf: chromePDF, log: log, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Export renders document in the requested format. With req.Upload set
// the artifact is also stored and its URL returned in the result.
func (s *Service) Export(ctx context.Context, document Document, req Request) (*Result, error) {
	if req.Upload && s.uploader == nil {
		return nil, ErrUploadUnavailable
	}
	data := BuildTemplateData(document, req)
	page, err := RenderDocumentHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	base := sanitizeFilename(document.Title)
	var result *Result
	switch req.Format {
	case FormatHTML, "":
		result = &Result{Data: []byte(page), Filename: base + ".html", MimeType: "text/html; charset=utf-8"}
	case FormatPDF:
		switch req.Paper {
		case "":
			req.Paper = PaperLetter
		case PaperLetter, PaperA4:
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedPaper, req.Paper)
		}
		pdf, err := s.pdf(ctx, newPrintJob(data, page, req))
		if err != nil {
			return nil, err
		}
		result = &Result{Data: pdf, Filename: base + ".pdf", MimeType: "application/pdf"}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}

	if req.Upload {
		name := fmt.Sprintf("%s/%s-%s", document.ID, s.now().UTC().Format("20060102T150405Z"), result.Filename)
		link, err := s.uploader.Upload(ctx, name, result.MimeType, result.Data)
		if err != nil {
			return nil, fmt.Errorf("upload export: %w", err)
		}
		result.URL = link
	}
	s.log.Info("document exported", "document", document.ID, "format", string(req.Format), "bytes", len(result.Data), "uploaded", req.Upload)
	return result, nil
}

// BuildTemplateData renders each field and collects the thread and
// suggestion appendices. Resolved threads are listed but not highlighted.
func BuildTemplateData(document Document, req Request) TemplateData {
	data := TemplateData{
		Title:     document.Title,
		Author:    document.Author,
		UpdatedAt: document.UpdatedAt,
	}
	for _, field := range document.Fields {
		state := field.State
		opts := RenderOptions{
			ShowComments:    req.IncludeThreads,
			ShowSuggestions: req.IncludeSuggestions,
			Highlight: func(id annotation.ID) bool {
				thread, ok := state.Comments[id]
				return ok && !thread.IsResolved
			},
		}
		data.Fields = append(data.Fields, TemplateField{
			Path: field.Path,
			HTML: template.HTML(RenderNodes(field.Nodes, opts)),
		})

		if req.IncludeThreads {
			for _, thread := range annotation.SortedThreads(state.Comments) {
				if thread.IsEmpty() {
					continue
				}
				item := TemplateThread{
					ID:       string(thread.ID),
					Field:    field.Path,
					Subject:  thread.DiscussionSubject,
					Resolved: thread.IsResolved,
				}
				for _, message := range thread.Messages {
					item.Messages = append(item.Messages, TemplateMessage{
						Author:    message.AuthorName,
						Body:      message.Body,
						CreatedAt: message.CreatedAt.Time,
					})
				}
				data.Threads = append(data.Threads, item)
			}
		}
		if req.IncludeSuggestions {
			for _, s := range annotation.SortedSuggestions(state.Suggestions) {
				diff, ok := field.Diffs[s.ID]
				if !ok {
					continue
				}
				data.Suggestions = append(data.Suggestions, TemplateSuggestion{
					ID:       string(s.ID),
					Field:    field.Path,
					Type:     string(diff.Type),
					Author:   s.UserName,
					Inserted: diff.InsertedText,
					Deleted:  diff.DeletedText,
				})
			}
		}
	}
	return data
}
