package analysis

import (
	"context"
	"errors"
	"math/rand/v2"

	"github.com/ashureev/smartfin/internal/dataset"
	"github.com/ashureev/smartfin/internal/domain"
	"github.com/ashureev/smartfin/internal/tool"
)

// Datasets resolves the session's cached dataset.
type Datasets interface {
	Get(sessionID string) (*dataset.Frame, bool)
}

// errNoDataset is returned to the model, which relays it to the user.
var errNoDataset = errors.New("no dataset was uploaded for this session, ask the user to upload a CSV, XLSX or ZIP file first")

const maxRows = 50

type rowsArgs struct {
	Mode string `json:"mode"`
	N    int    `json:"n"`
}

type correlationArgs struct {
	Columns []string `json:"columns"`
}

type outlierArgs struct {
	Column string  `json:"column"`
	K      float64 `json:"k"`
}

type chartArgs struct {
	X           string `json:"x"`
	Y           string `json:"y"`
	Column      string `json:"column"`
	Aggregation string `json:"aggregation"`
	Bins        int    `json:"bins"`
	Title       string `json:"title"`
}

// Tools returns the data analyst tools for one session.
func Tools(data Datasets, charts ChartSaver, sessionID string) []tool.Tool {
	frame := func() (*dataset.Frame, error) {
		f, ok := data.Get(sessionID)
		if !ok {
			return nil, errNoDataset
		}
		return f, nil
	}

	chart := func(kind, description string, props map[string]any, required ...string) tool.Tool {
		return tool.New("create_"+kind+chartSuffix(kind), description, tool.Object(props, required...),
			func(ctx context.Context, a chartArgs) (any, error) {
				f, err := frame()
				if err != nil {
					return nil, err
				}
				x := a.X
				if x == "" {
					x = a.Column
				}
				fig, title, err := BuildFigure(f, ChartRequest{
					Kind: kind, X: x, Y: a.Y, Aggregation: a.Aggregation, Bins: a.Bins, Title: a.Title,
				})
				if err != nil {
					return nil, err
				}
				cols := []string{x}
				if a.Y != "" {
					cols = append(cols, a.Y)
				}
				g := &domain.Graph{
					SessionID: sessionID,
					Kind:      kind,
					Title:     title,
					Figure:    fig,
					Metadata:  domain.GraphMetadata{Columns: cols, Description: description},
				}
				if err := charts.SaveGraph(ctx, g); err != nil {
					return nil, err
				}
				return map[string]any{"graph_id": g.ID, "title": title}, nil
			})
	}

	return []tool.Tool{
		tool.New("data_summary",
			"Returns the shape of the dataset and descriptive statistics for every column (count, mean, std, quartiles for numeric columns; unique values and most frequent value for the others).",
			tool.Object(map[string]any{}),
			func(context.Context, struct{}) (any, error) {
				f, err := frame()
				if err != nil {
					return nil, err
				}
				return Summarize(f), nil
			}),

		tool.New("data_rows",
			"Returns rows of the dataset: the first ('head'), last ('tail') or a random sample ('random') of n rows (max 50).",
			tool.Object(map[string]any{
				"mode": map[string]any{"type": "string", "enum": []string{"head", "tail", "random"}},
				"n":    tool.Prop("integer", "Number of rows, default 5."),
			}),
			func(_ context.Context, a rowsArgs) (any, error) {
				f, err := frame()
				if err != nil {
					return nil, err
				}
				n := a.N
				if n <= 0 {
					n = 5
				}
				n = min(n, maxRows)
				switch a.Mode {
				case "tail":
					return f.Tail(n).Records(), nil
				case "random":
					return sample(f, n).Records(), nil
				default:
					return f.Head(n).Records(), nil
				}
			}),

		tool.New("correlation_matrix",
			"Computes the Pearson correlation matrix between numeric columns. Uses every numeric column when none are given.",
			tool.Object(map[string]any{
				"columns": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			}),
			func(_ context.Context, a correlationArgs) (any, error) {
				f, err := frame()
				if err != nil {
					return nil, err
				}
				return Correlation(f, a.Columns)
			}),

		tool.New("detect_outliers",
			"Detects outliers of a numeric column with the IQR method (values outside Q1 - k*IQR and Q3 + k*IQR, k defaults to 1.5).",
			tool.Object(map[string]any{
				"column": tool.Prop("string", "Numeric column to inspect."),
				"k":      tool.Prop("number", "IQR multiplier."),
			}, "column"),
			func(_ context.Context, a outlierArgs) (any, error) {
				f, err := frame()
				if err != nil {
					return nil, err
				}
				return DetectOutliers(f, a.Column, a.K)
			}),

		chart("histogram",
			"Creates a histogram of a numeric column and returns its graph_id.",
			map[string]any{
				"column": tool.Prop("string", "Numeric column."),
				"bins":   tool.Prop("integer", "Number of bins."),
				"title":  tool.Prop("string", "Chart title."),
			}, "column"),

		chart("bar",
			"Creates a bar chart grouping rows by x. Without y it counts rows; with y it aggregates y using sum (default) or mean. Returns its graph_id.",
			map[string]any{
				"x":           tool.Prop("string", "Category column."),
				"y":           tool.Prop("string", "Numeric column to aggregate."),
				"aggregation": map[string]any{"type": "string", "enum": []string{"count", "sum", "mean"}},
				"title":       tool.Prop("string", "Chart title."),
			}, "x"),

		chart("scatter",
			"Creates a scatter plot of y against x and returns its graph_id.",
			map[string]any{
				"x":     tool.Prop("string", "X column."),
				"y":     tool.Prop("string", "Numeric Y column."),
				"title": tool.Prop("string", "Chart title."),
			}, "x", "y"),

		chart("line",
			"Creates a line plot of y against x and returns its graph_id.",
			map[string]any{
				"x":     tool.Prop("string", "X column, usually a date or sequence."),
				"y":     tool.Prop("string", "Numeric Y column."),
				"title": tool.Prop("string", "Chart title."),
			}, "x", "y"),
	}
}

func chartSuffix(kind string) string {
	switch kind {
	case "bar":
		return "_chart"
	case "scatter", "line":
		return "_plot"
	default:
		return ""
	}
}

func sample(f *dataset.Frame, n int) *dataset.Frame {
	if n >= f.NumRows() {
		return f
	}
	perm := rand.Perm(f.NumRows())[:n]
	rows := make([][]any, n)
	for i, p := range perm {
		rows[i] = f.Rows[p]
	}
	return &dataset.Frame{Columns: f.Columns, Rows: rows}
}
