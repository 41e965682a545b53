package mailersvc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/corray333/labshop/internal/service/models/notification"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Email is a rendered message ready to send.
type Email struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Renderer turns notification messages into emails.
type Renderer struct {
	markdown goldmark.Markdown
	policy   *bluemonday.Policy
	printer  *message.Printer
	location *time.Location
	funcs    template.FuncMap
}

// NewRenderer creates a renderer formatting dates in location.
func NewRenderer(location *time.Location) *Renderer {
	if location == nil {
		location = time.UTC
	}
	r := &Renderer{
		markdown: goldmark.New(goldmark.WithExtensions(extension.Table)),
		policy:   bluemonday.UGCPolicy(),
		printer:  message.NewPrinter(language.MustParse("es-AR")),
		location: location,
	}
	r.funcs = template.FuncMap{
		"money":    r.money,
		"date":     r.date,
		"datetime": r.datetime,
		"status":   status,
	}

	return r
}

// Render builds the email for msg.
func (r *Renderer) Render(msg notification.Message) (Email, error) {
	tpl, ok := templates[msg.Kind]
	if !ok {
		return Email{}, fmt.Errorf("unknown notification kind %q", msg.Kind)
	}

	subject, err := r.execute(string(msg.Kind)+".subject", tpl.subject, msg.Data)
	if err != nil {
		return Email{}, err
	}
	text, err := r.execute(string(msg.Kind)+".body", tpl.body, msg.Data)
	if err != nil {
		return Email{}, err
	}

	var html bytes.Buffer
	if err := r.markdown.Convert([]byte(text), &html); err != nil {
		return Email{}, fmt.Errorf("failed to render markdown for %s: %w", msg.Kind, err)
	}

	return Email{
		To:      msg.Recipient,
		Subject: strings.TrimSpace(subject),
		HTML:    r.policy.Sanitize(html.String()),
		Text:    text,
	}, nil
}

func (r *Renderer) execute(name, text string, data map[string]any) (string, error) {
	t, err := template.New(name).Funcs(r.funcs).Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}

	return buf.String(), nil
}

// money formats minor units as pesos, e.g. $ 1.234,50.
func (r *Renderer) money(v any) string {
	cents := toInt64(v)
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}

	return r.printer.Sprintf("%s$ %d,%02d", sign, cents/100, cents%100)
}

func (r *Renderer) date(v any) string {
	s, _ := v.(string)
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return s
	}

	return t.Format("02/01/2006")
}

func (r *Renderer) datetime(v any) string {
	s, _ := v.(string)
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return s
	}

	return t.In(r.location).Format("02/01/2006 15:04")
}

func status(v any) string {
	s, _ := v.(string)
	if label, ok := statusLabels[s]; ok {
		return label
	}

	return s
}

// toInt64 accepts the number shapes a JSON round trip can produce.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return int64(f)
		}
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i
		}
	}

	return 0
}
