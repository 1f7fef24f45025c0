package analysis

import (
	"math"
	"testing"

	"github.com/ashureev/smartfin/internal/dataset"
)

func salesFrame() *dataset.Frame {
	return &dataset.Frame{
		Columns: []string{"uf", "qtd", "valor"},
		Rows: [][]any{
			{"SP", 1.0, 10.0},
			{"RJ", 2.0, 20.0},
			{"SP", 3.0, 30.0},
			{"MG", 4.0, 40.0},
			{nil, 5.0, 500.0},
		},
	}
}

func TestQuantile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4}
	cases := map[float64]float64{0: 1, 0.25: 1.75, 0.5: 2.5, 1: 4}
	for q, want := range cases {
		if got := Quantile(sorted, q); math.Abs(got-want) > 1e-12 {
			t.Errorf("Quantile(%v) = %v, want %v", q, got, want)
		}
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(salesFrame())
	if s.Rows != 5 || s.Columns != 3 {
		t.Fatalf("Unexpected shape %d x %d", s.Rows, s.Columns)
	}
	qtd := s.Numeric["qtd"]
	if qtd.Mean != 3 || qtd.Median != 3 || qtd.Min != 1 || qtd.Max != 5 {
		t.Errorf("Unexpected qtd summary %+v", qtd)
	}
	if math.Abs(qtd.Std-math.Sqrt(2.5)) > 1e-12 {
		t.Errorf("Expected sample std, got %v", qtd.Std)
	}
	uf := s.Categorical["uf"]
	if uf.Count != 4 || uf.Missing != 1 || uf.Unique != 3 || uf.Top != "SP" || uf.Freq != 2 {
		t.Errorf("Unexpected uf summary %+v", uf)
	}
}

func TestCorrelation(t *testing.T) {
	m, err := Correlation(salesFrame(), []string{"qtd", "qtd"})
	if err != nil {
		t.Fatalf("Correlation failed: %v", err)
	}
	if r := m["qtd"]["qtd"]; r == nil || *r != 1 {
		t.Errorf("Expected self correlation 1, got %v", r)
	}

	all, err := Correlation(salesFrame(), nil)
	if err != nil {
		t.Fatalf("Correlation failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected 2 numeric columns, got %d", len(all))
	}

	if _, err := Correlation(salesFrame(), []string{"uf", "qtd"}); err == nil {
		t.Error("Expected error for text column")
	}
}

func TestDetectOutliers(t *testing.T) {
	o, err := DetectOutliers(salesFrame(), "valor", 0)
	if err != nil {
		t.Fatalf("DetectOutliers failed: %v", err)
	}
	if o.Count != 1 || o.Sample[0] != 500 {
		t.Errorf("Expected 500 to be the only outlier, got %+v", o)
	}
	if o.Percentage != 20 {
		t.Errorf("Expected 20%%, got %v", o.Percentage)
	}
}
