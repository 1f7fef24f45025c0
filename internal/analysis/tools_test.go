package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ashureev/smartfin/internal/dataset"
	"github.com/ashureev/smartfin/internal/domain"
	"github.com/ashureev/smartfin/internal/tool"
)

type fakeDatasets map[string]*dataset.Frame

func (f fakeDatasets) Get(id string) (*dataset.Frame, bool) {
	fr, ok := f[id]
	return fr, ok
}

type fakeCharts struct {
	saved []*domain.Graph
	err   error
}

func (c *fakeCharts) SaveGraph(_ context.Context, g *domain.Graph) error {
	if c.err != nil {
		return c.err
	}
	g.ID = "graph-" + g.Kind
	c.saved = append(c.saved, g)
	return nil
}

func findTool(t *testing.T, tools []tool.Tool, name string) tool.Tool {
	t.Helper()
	for _, tl := range tools {
		if tl.Name() == name {
			return tl
		}
	}
	t.Fatalf("tool %s not found", name)
	return tool.Tool{}
}

func TestTools_Names(t *testing.T) {
	tools := Tools(fakeDatasets{}, &fakeCharts{}, "s")
	want := []string{
		"data_summary", "data_rows", "correlation_matrix", "detect_outliers",
		"create_histogram", "create_bar_chart", "create_scatter_plot", "create_line_plot",
	}
	if len(tools) != len(want) {
		t.Fatalf("Expected %d tools, got %d", len(want), len(tools))
	}
	for i, name := range want {
		if tools[i].Name() != name {
			t.Errorf("tool %d = %s, want %s", i, tools[i].Name(), name)
		}
	}
}

func TestTools_NoDataset(t *testing.T) {
	tools := Tools(fakeDatasets{}, &fakeCharts{}, "s")
	_, err := findTool(t, tools, "data_summary").Run(context.Background(), nil)
	if !errors.Is(err, errNoDataset) {
		t.Fatalf("Expected errNoDataset, got %v", err)
	}
}

func TestTools_DataRows(t *testing.T) {
	tools := Tools(fakeDatasets{"s": salesFrame()}, &fakeCharts{}, "s")

	out, err := findTool(t, tools, "data_rows").Run(context.Background(), json.RawMessage(`{"mode":"tail","n":2}`))
	if err != nil {
		t.Fatalf("data_rows failed: %v", err)
	}
	var rows []map[string]any
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 2 || rows[1]["valor"] != 500.0 {
		t.Errorf("Unexpected rows %v", rows)
	}

	out, err = findTool(t, tools, "data_rows").Run(context.Background(), json.RawMessage(`{"mode":"random","n":3}`))
	if err != nil {
		t.Fatalf("data_rows failed: %v", err)
	}
	if err := json.Unmarshal([]byte(out), &rows); err != nil || len(rows) != 3 {
		t.Errorf("Expected 3 random rows, got %v (%v)", rows, err)
	}
}

func TestTools_ChartsArePersisted(t *testing.T) {
	charts := &fakeCharts{}
	tools := Tools(fakeDatasets{"s": salesFrame()}, charts, "s")
	ctx := context.Background()

	out, err := findTool(t, tools, "create_bar_chart").Run(ctx, json.RawMessage(`{"x":"uf","y":"valor","aggregation":"mean"}`))
	if err != nil {
		t.Fatalf("create_bar_chart failed: %v", err)
	}
	if !strings.Contains(out, `"graph_id":"graph-bar"`) {
		t.Errorf("Expected graph id in result, got %s", out)
	}
	if len(charts.saved) != 1 {
		t.Fatalf("Expected 1 saved chart, got %d", len(charts.saved))
	}
	g := charts.saved[0]
	if g.SessionID != "s" || g.Title != "mean of valor by uf" {
		t.Errorf("Unexpected graph %+v", g)
	}

	var fig struct {
		Data []struct {
			Type string    `json:"type"`
			X    []string  `json:"x"`
			Y    []float64 `json:"y"`
		} `json:"data"`
	}
	if err := json.Unmarshal(g.Figure, &fig); err != nil {
		t.Fatalf("decode figure: %v", err)
	}
	if fig.Data[0].Type != "bar" || strings.Join(fig.Data[0].X, ",") != "MG,RJ,SP" {
		t.Errorf("Unexpected bar trace %+v", fig.Data[0])
	}
	if fig.Data[0].Y[2] != 20 {
		t.Errorf("Expected SP mean 20, got %v", fig.Data[0].Y[2])
	}

	if _, err := findTool(t, tools, "create_histogram").Run(ctx, json.RawMessage(`{"column":"qtd","bins":3}`)); err != nil {
		t.Fatalf("create_histogram failed: %v", err)
	}
	if _, err := findTool(t, tools, "create_line_plot").Run(ctx, json.RawMessage(`{"x":"qtd","y":"valor"}`)); err != nil {
		t.Fatalf("create_line_plot failed: %v", err)
	}
	if _, err := findTool(t, tools, "create_scatter_plot").Run(ctx, json.RawMessage(`{"x":"qtd","y":"uf"}`)); err == nil {
		t.Error("Expected error for non numeric y")
	}
}
