package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ashureev/smartfin/internal/dataset"
	"github.com/ashureev/smartfin/internal/domain"
)

// ChartSaver persists chart artifacts.
type ChartSaver interface {
	SaveGraph(ctx context.Context, g *domain.Graph) error
}

// figure is a minimal plotly figure.
type figure struct {
	Data   []map[string]any `json:"data"`
	Layout map[string]any   `json:"layout"`
}

func layout(title, xTitle, yTitle string) map[string]any {
	return map[string]any{
		"title":    map[string]any{"text": title},
		"xaxis":    map[string]any{"title": map[string]any{"text": xTitle}},
		"yaxis":    map[string]any{"title": map[string]any{"text": yTitle}},
		"template": "plotly_white",
	}
}

// ChartRequest describes the chart to draw.
type ChartRequest struct {
	Kind        string
	X           string
	Y           string
	Aggregation string
	Bins        int
	Title       string
}

// BuildFigure renders the plotly figure for a request.
func BuildFigure(f *dataset.Frame, req ChartRequest) (json.RawMessage, string, error) {
	var fig figure
	title := req.Title

	switch req.Kind {
	case "histogram":
		values, err := f.Numeric(req.X)
		if err != nil {
			return nil, "", err
		}
		if title == "" {
			title = "Distribution of " + req.X
		}
		trace := map[string]any{"type": "histogram", "x": values, "name": req.X}
		if req.Bins > 0 {
			trace["nbinsx"] = req.Bins
		}
		fig = figure{Data: []map[string]any{trace}, Layout: layout(title, req.X, "count")}

	case "bar":
		labels, values, yTitle, err := aggregate(f, req.X, req.Y, req.Aggregation)
		if err != nil {
			return nil, "", err
		}
		if title == "" {
			title = yTitle + " by " + req.X
		}
		fig = figure{
			Data:   []map[string]any{{"type": "bar", "x": labels, "y": values}},
			Layout: layout(title, req.X, yTitle),
		}

	case "scatter", "line":
		xi, yi := f.ColumnIndex(req.X), f.ColumnIndex(req.Y)
		if xi < 0 || yi < 0 {
			return nil, "", fmt.Errorf("columns %q and %q must exist", req.X, req.Y)
		}
		if !f.IsNumeric(yi) {
			return nil, "", fmt.Errorf("column %q is not numeric", req.Y)
		}
		xs, ys := make([]any, 0, f.NumRows()), make([]float64, 0, f.NumRows())
		for _, row := range f.Rows {
			y, ok := row[yi].(float64)
			if !ok || row[xi] == nil {
				continue
			}
			xs = append(xs, row[xi])
			ys = append(ys, y)
		}
		if len(ys) == 0 {
			return nil, "", fmt.Errorf("no rows with values for %q and %q", req.X, req.Y)
		}
		mode := "markers"
		if req.Kind == "line" {
			mode = "lines+markers"
		}
		if title == "" {
			title = req.Y + " vs " + req.X
		}
		fig = figure{
			Data:   []map[string]any{{"type": "scatter", "mode": mode, "x": xs, "y": ys}},
			Layout: layout(title, req.X, req.Y),
		}

	default:
		return nil, "", fmt.Errorf("unknown chart kind %q", req.Kind)
	}

	b, err := json.Marshal(fig)
	if err != nil {
		return nil, "", fmt.Errorf("encode figure: %w", err)
	}
	return b, title, nil
}

// aggregate groups rows by the x column. Without y it counts rows.
func aggregate(f *dataset.Frame, x, y, agg string) ([]string, []float64, string, error) {
	xi := f.ColumnIndex(x)
	if xi < 0 {
		return nil, nil, "", fmt.Errorf("column %q not found", x)
	}
	yi := -1
	if y != "" {
		if yi = f.ColumnIndex(y); yi < 0 {
			return nil, nil, "", fmt.Errorf("column %q not found", y)
		}
		if !f.IsNumeric(yi) {
			return nil, nil, "", fmt.Errorf("column %q is not numeric", y)
		}
	}
	if yi < 0 {
		agg = "count"
	} else if agg == "" {
		agg = "sum"
	}

	sums := map[string]float64{}
	counts := map[string]int{}
	for _, row := range f.Rows {
		if row[xi] == nil {
			continue
		}
		key := fmt.Sprint(row[xi])
		counts[key]++
		if yi >= 0 {
			if v, ok := row[yi].(float64); ok {
				sums[key] += v
			}
		}
	}

	labels := make([]string, 0, len(counts))
	for k := range counts {
		labels = append(labels, k)
	}
	sort.Strings(labels)

	values := make([]float64, len(labels))
	for i, k := range labels {
		switch agg {
		case "count":
			values[i] = float64(counts[k])
		case "sum":
			values[i] = sums[k]
		case "mean":
			values[i] = sums[k] / float64(counts[k])
		default:
			return nil, nil, "", fmt.Errorf("unknown aggregation %q", agg)
		}
	}

	yTitle := "count"
	if yi >= 0 {
		yTitle = agg + " of " + y
	}
	return labels, values, yTitle, nil
}
