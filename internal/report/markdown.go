package report

import (
	"bytes"
	"fmt"
	"html"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"statusflow/internal/domain"
)

// StatusReport is the data behind one rendered workflow document.
type StatusReport struct {
	Title        string
	ProjectID    string
	ObjectType   string
	GeneratedAt  string
	Statuses     []domain.StatusDefinition
	Fields       []domain.FieldDefinition
	ObjectCounts map[int64]int
}

var (
	markdownOnce sync.Once
	markdownConv goldmark.Markdown
)

// Remarks are authored as rich text and may carry raw <img> tags, so raw
// HTML is passed through and handled by the inliner afterwards.
func converter() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdownConv = goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(gmhtml.WithUnsafe()),
		)
	})
	return markdownConv
}

// Markdown renders r as a GFM document: a status table followed by one
// section per status that has a remark.
func (r StatusReport) Markdown() string {
	names := make(map[int64]string, len(r.Statuses))
	for _, s := range r.Statuses {
		names[s.ID] = s.Name
	}
	fields := make(map[int64]string, len(r.Fields))
	for _, f := range r.Fields {
		fields[f.ID] = f.Name
	}
	statuses := append([]domain.StatusDefinition(nil), r.Statuses...)
	sort.SliceStable(statuses, func(i, j int) bool {
		if statuses[i].Category != statuses[j].Category {
			return statuses[i].Category < statuses[j].Category
		}
		return statuses[i].ID < statuses[j].ID
	})

	var b strings.Builder
	title := r.Title
	if title == "" {
		title = fmt.Sprintf("%s / %s workflow", r.ProjectID, r.ObjectType)
	}
	fmt.Fprintf(&b, "# %s\n\n", cell(title))
	if r.GeneratedAt != "" {
		fmt.Fprintf(&b, "Generated %s.\n\n", cell(r.GeneratedAt))
	}
	if len(statuses) == 0 {
		b.WriteString("_No statuses defined._\n")
		return b.String()
	}
	b.WriteString("| Status | Category | Color | Next | Required fields | Who may move | Owner on entry | Objects |\n")
	b.WriteString("|---|---|---|---|---|---|---|---:|\n")
	for _, s := range statuses {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s | %d |\n",
			cell(s.Name),
			s.Category.String(),
			swatch(s.Color),
			cell(joinNames(s.TransferTo, names)),
			cell(joinNames(s.CheckFieldList, fields)),
			cell(tokensOrAnyone(s.PermissionOwnerList)),
			cell(strings.Join(s.SetOwnerList.Strings(), ", ")),
			r.ObjectCounts[s.ID],
		)
	}
	for _, s := range statuses {
		if strings.TrimSpace(s.Remark) == "" {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n\n%s\n", cell(s.Name), s.Remark)
	}
	return b.String()
}

// HTML converts the markdown to a complete HTML document. Images are left
// as authored.
func (r StatusReport) HTML() (string, error) {
	return MarkdownToHTML(r.Title, r.Markdown())
}

func MarkdownToHTML(title, md string) (string, error) {
	var body bytes.Buffer
	if err := converter().Convert([]byte(md), &body); err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}
	var out strings.Builder
	out.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\">")
	fmt.Fprintf(&out, "<title>%s</title>", html.EscapeString(title))
	out.WriteString("<style>table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:4px 8px}.swatch{display:inline-block;width:1em;height:1em;vertical-align:middle;margin-right:4px}</style>")
	out.WriteString("</head><body>\n")
	out.Write(body.Bytes())
	out.WriteString("</body></html>\n")
	return out.String(), nil
}

func joinNames(ids []int64, names map[int64]string) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		if n, ok := names[id]; ok {
			parts = append(parts, n)
		} else {
			parts = append(parts, "#"+strconv.FormatInt(id, 10))
		}
	}
	return strings.Join(parts, ", ")
}

func tokensOrAnyone(set domain.TokenSet) string {
	if len(set) == 0 {
		return "anyone"
	}
	return strings.Join(set.Strings(), ", ")
}

// cell escapes text for a GFM table cell.
func cell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = html.EscapeString(s)
	return strings.ReplaceAll(s, "|", "\\|")
}

func swatch(color string) string {
	c := html.EscapeString(strings.TrimSpace(color))
	if c == "" {
		return ""
	}
	return fmt.Sprintf(`<span class="swatch" style="background:%s"></span>%s`, strings.ReplaceAll(c, ";", ""), strings.ReplaceAll(c, "|", "\\|"))
}
