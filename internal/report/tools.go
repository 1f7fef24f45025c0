package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ashureev/smartfin/internal/domain"
	"github.com/ashureev/smartfin/internal/tool"
)

// GraphLookup resolves chart artifacts referenced by a report.
type GraphLookup interface {
	GetGraph(ctx context.Context, id string) (*domain.Graph, error)
}

// ContactFunc returns the session's registered email, or "" when none.
type ContactFunc func() string

var graphPlaceholder = regexp.MustCompile(`\[([^\]]*)\]\(graph_id:([A-Za-z0-9-]+)\)`)

// ReplaceGraphs swaps [caption](graph_id:ID) placeholders for a caption
// naming the chart. Unknown ids keep their alt text.
func ReplaceGraphs(ctx context.Context, graphs GraphLookup, content string) string {
	return graphPlaceholder.ReplaceAllStringFunc(content, func(m string) string {
		parts := graphPlaceholder.FindStringSubmatch(m)
		alt, id := parts[1], parts[2]

		g, err := graphs.GetGraph(ctx, id)
		if err != nil {
			slog.Warn("Failed to load graph for report", "graph_id", id, "error", err)
		}
		if err != nil || g == nil {
			return "*" + alt + "*"
		}
		caption := alt
		if caption == "" {
			caption = g.Title
		}
		return fmt.Sprintf("*Figura: %s (%s, gráfico %s)*", caption, g.Title, g.ID)
	})
}

type reportArgs struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// Tools returns the report generator tools for one session.
func Tools(r *Renderer, m Mailer, graphs GraphLookup, contact ContactFunc) []tool.Tool {
	return []tool.Tool{
		tool.New("create_and_send_report",
			"Creates the report as a PDF file and sends the document to the user's registered email. The input is the file name (lowercase) and the content of the report in **markdown**. Reference charts with [caption](graph_id:ID).",
			tool.Object(map[string]any{
				"filename": tool.Prop("string", "Lowercase file name of the report."),
				"content":  tool.Prop("string", "Report content in Markdown."),
			}, "filename", "content"),
			func(ctx context.Context, a reportArgs) (any, error) {
				to := contact()
				if to == "" {
					return map[string]string{"error": "No email found, please register an email first"}, nil
				}
				if strings.TrimSpace(a.Content) == "" {
					return map[string]string{"error": "No content found for generating the report."}, nil
				}

				name := pdfName(a.Filename)
				content := ReplaceGraphs(ctx, graphs, a.Content)
				pdf, err := r.Render(strings.TrimSuffix(name, ".pdf"), content)
				if err != nil {
					slog.Error("Failed to render report", "error", err)
					return map[string]string{"error": "Failed to generate the PDF document"}, nil
				}

				if err := m.Send(ctx, to, name, pdf); err != nil {
					if errors.Is(err, ErrMailerDisabled) {
						return map[string]string{"error": "Email sender deactivated."}, nil
					}
					slog.Error("Failed to send report", "error", err)
					return map[string]string{"error": "An error occurred when sending the report."}, nil
				}
				return map[string]string{"results": "Email sent successfully!"}, nil
			}),
	}
}
