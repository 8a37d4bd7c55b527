package export

import (
	"context"
	"fmt"
	"html"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

type Paper string

const (
	PaperLetter Paper = "letter"
	PaperA4     Paper = "a4"
)

// size returns the paper width and height in inches.
func (p Paper) size() (float64, float64) {
	if p == PaperA4 {
		return 8.27, 11.69
	}
	return 8.5, 11
}

// PrintJob is one document page to print, with the running header and
// footer shown on every PDF page.
type PrintJob struct {
	HTML      string
	Header    string
	Footer    string
	Paper     Paper
	Landscape bool
}

// newPrintJob builds the job for an exported document. The header carries
// the title; the footer counts what the appendix lists so a reviewer sees
// outstanding work on every page.
func newPrintJob(data TemplateData, body string, req Request) PrintJob {
	open := 0
	for _, thread := range data.Threads {
		if !thread.Resolved {
			open++
		}
	}
	var footer []string
	if req.IncludeThreads {
		footer = append(footer, plural(open, "open thread", "open threads"))
	}
	if req.IncludeSuggestions {
		footer = append(footer, plural(len(data.Suggestions), "pending suggestion", "pending suggestions"))
	}
	return PrintJob{
		HTML:      body,
		Header:    data.Title,
		Footer:    strings.Join(footer, ", "),
		Paper:     req.Paper,
		Landscape: req.Landscape,
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return fmt.Sprintf("%d %s", n, many)
}

func (j PrintJob) headerTemplate() string {
	return `<div style="font-size:8px;width:100%;padding:0 0.5in;color:#555;">` + html.EscapeString(j.Header) + `</div>`
}

func (j PrintJob) footerTemplate() string {
	return `<div style="font-size:8px;width:100%;padding:0 0.5in;color:#555;display:flex;justify-content:space-between;">` +
		`<span>` + html.EscapeString(j.Footer) + `</span>` +
		`<span><span class="pageNumber"></span> / <span class="totalPages"></span></span></div>`
}

// printParams maps the job onto Chrome's print options.
func (j PrintJob) printParams() *page.PrintToPDFParams {
	width, height := j.Paper.size()
	return page.PrintToPDF().
		WithPrintBackground(true).
		WithPaperWidth(width).
		WithPaperHeight(height).
		WithLandscape(j.Landscape).
		WithMarginTop(0.75).
		WithMarginBottom(0.75).
		WithMarginLeft(0.6).
		WithMarginRight(0.6).
		WithDisplayHeaderFooter(true).
		WithHeaderTemplate(j.headerTemplate()).
		WithFooterTemplate(j.footerTemplate())
}

// chromePDF prints the job with headless Chrome. The page is loaded with
// SetDocumentContent so large documents need no data URL.
func chromePDF(ctx context.Context, job PrintJob) ([]byte, error) {
	if !chromeInstalled() {
		return nil, fmt.Errorf("%w: chromium not installed", ErrPDFDependencyMissing)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	defer cancelTask()

	var out []byte
	err := chromedp.Run(taskCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, job.HTML).Do(ctx)
		}),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			out, _, err = job.printParams().Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("print pdf: %w", err)
	}
	return out, nil
}

// sanitizeFilename keeps letters, digits, '-' and '_', turns spaces into
// hyphens and caps the result at 50 bytes.
func sanitizeFilename(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		}
	}
	result := b.String()
	if len(result) > 50 {
		result = result[:50]
	}
	if result == "" {
		return "document"
	}
	return result
}

func chromeInstalled() bool {
	for _, name := range []string{"chromium-browser", "chromium", "google-chrome"} {
		if _, err := exec.LookPath(name); err == nil {
			return true
		}
	}
	return false
}
