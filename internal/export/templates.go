package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var documentTemplate = template.Must(template.New("document.html").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		if t.IsZero() {
			return ""
		}
		return t.Format(layout)
	},
}).ParseFS(templateFS, "templates/document.html"))

type TemplateData struct {
	Title       string
	Author      string
	UpdatedAt   time.Time
	Fields      []TemplateField
	Threads     []TemplateThread
	Suggestions []TemplateSuggestion
}

type TemplateField struct {
	Path string
	HTML template.HTML
}

type TemplateThread struct {
	ID       string
	Field    string
	Subject  string
	Resolved bool
	Messages []TemplateMessage
}

type TemplateMessage struct {
	Author    string
	Body      string
	CreatedAt time.Time
}

type TemplateSuggestion struct {
	ID       string
	Field    string
	Type     string
	Author   string
	Inserted string
	Deleted  string
}

func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
