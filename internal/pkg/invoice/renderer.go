package invoice

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/gofiber/template/html/v2"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	documentTemplate = "invoice"
	emailTemplate    = "invoice_email"
)

// Document is the data an invoice is rendered from.
type Document struct {
	Number          string
	CompanyName     string
	IssuedAt        time.Time
	CustomerName    string
	CustomerEmail   string
	TransactionID   string
	PlanName        string
	BillingCycle    string
	PeriodStart     time.Time
	PeriodEnd       time.Time
	BaseAmount      float64
	SurchargeAmount float64
	Total           float64
	Currency        string
	PaymentMethod   string
}

// Renderer turns invoice documents into HTML.
type Renderer struct {
	engine *html.Engine
}

func NewRenderer() (*Renderer, error) {
	sub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, err
	}

	engine := html.NewFileSystem(http.FS(sub), ".html")
	engine.AddFunc("money", func(v float64) string {
		return fmt.Sprintf("%.2f", v)
	})
	engine.AddFunc("date", func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.UTC().Format("02 Jan 2006")
	})
	if err := engine.Load(); err != nil {
		return nil, fmt.Errorf("load invoice templates: %w", err)
	}
	return &Renderer{engine: engine}, nil
}

// Document renders the invoice attachment.
func (r *Renderer) Document(doc Document) ([]byte, error) {
	return r.render(documentTemplate, doc)
}

// Email renders the body of the invoice e-mail.
func (r *Renderer) Email(doc Document) ([]byte, error) {
	return r.render(emailTemplate, doc)
}

func (r *Renderer) render(name string, doc Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.engine.Render(&buf, name, doc); err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	return buf.Bytes(), nil
}
