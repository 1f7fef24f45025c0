// Package analysis implements the statistics and charting tools of the data
// analyst agent over the session's cached dataset.
package analysis

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/ashureev/smartfin/internal/dataset"
)

// NumericSummary describes a numeric column.
type NumericSummary struct {
	Count   int     `json:"count"`
	Missing int     `json:"missing"`
	Mean    float64 `json:"mean"`
	Std     float64 `json:"std"`
	Min     float64 `json:"min"`
	Q1      float64 `json:"25%"`
	Median  float64 `json:"50%"`
	Q3      float64 `json:"75%"`
	Max     float64 `json:"max"`
}

// CategorySummary describes a non-numeric column.
type CategorySummary struct {
	Count   int    `json:"count"`
	Missing int    `json:"missing"`
	Unique  int    `json:"unique"`
	Top     string `json:"top"`
	Freq    int    `json:"freq"`
}

// Summary is the overview of a whole frame.
type Summary struct {
	Rows        int                        `json:"rows"`
	Columns     int                        `json:"columns"`
	Numeric     map[string]NumericSummary  `json:"numeric"`
	Categorical map[string]CategorySummary `json:"categorical"`
}

// Summarize describes every column of f.
func Summarize(f *dataset.Frame) Summary {
	s := Summary{
		Rows:        f.NumRows(),
		Columns:     len(f.Columns),
		Numeric:     map[string]NumericSummary{},
		Categorical: map[string]CategorySummary{},
	}
	for i, name := range f.Columns {
		if f.IsNumeric(i) {
			values, _ := f.Numeric(name)
			ns := describe(values)
			ns.Missing = f.NumRows() - len(values)
			s.Numeric[name] = ns
			continue
		}
		s.Categorical[name] = categorize(f, i)
	}
	return s
}

func describe(values []float64) NumericSummary {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mean := Mean(sorted)
	return NumericSummary{
		Count:  len(sorted),
		Mean:   mean,
		Std:    StdDev(sorted, mean),
		Min:    sorted[0],
		Q1:     Quantile(sorted, 0.25),
		Median: Quantile(sorted, 0.5),
		Q3:     Quantile(sorted, 0.75),
		Max:    sorted[len(sorted)-1],
	}
}

func categorize(f *dataset.Frame, idx int) CategorySummary {
	counts := map[string]int{}
	cs := CategorySummary{}
	for _, row := range f.Rows {
		if row[idx] == nil {
			cs.Missing++
			continue
		}
		counts[fmt.Sprint(row[idx])]++
		cs.Count++
	}
	cs.Unique = len(counts)
	for k, n := range counts {
		if n > cs.Freq || (n == cs.Freq && k < cs.Top) {
			cs.Top, cs.Freq = k, n
		}
	}
	return cs
}

// Mean returns the arithmetic mean.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the sample standard deviation (n-1).
func StdDev(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var ss float64
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}
	return math.Sqrt(ss / float64(len(values)-1))
}

// Quantile interpolates linearly between the closest ranks of sorted values.
func Quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (pos-float64(lo))*(sorted[hi]-sorted[lo])
}

// Pearson returns the correlation of two equally sized series.
func Pearson(x, y []float64) (float64, error) {
	if len(x) != len(y) || len(x) < 2 {
		return 0, errors.New("correlation needs two series of equal length >= 2")
	}
	mx, my := Mean(x), Mean(y)
	var sxy, sxx, syy float64
	for i := range x {
		dx, dy := x[i]-mx, y[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return math.NaN(), nil
	}
	return sxy / math.Sqrt(sxx*syy), nil
}

// pairs returns the rows where both columns are numeric.
func pairs(f *dataset.Frame, a, b int) (xs, ys []float64) {
	for _, row := range f.Rows {
		x, okx := row[a].(float64)
		y, oky := row[b].(float64)
		if okx && oky {
			xs = append(xs, x)
			ys = append(ys, y)
		}
	}
	return xs, ys
}

// Correlation computes the Pearson matrix of the given numeric columns, or
// of every numeric column when none are named. Undefined cells are nil.
func Correlation(f *dataset.Frame, columns []string) (map[string]map[string]*float64, error) {
	if len(columns) == 0 {
		for i, c := range f.Columns {
			if f.IsNumeric(i) {
				columns = append(columns, c)
			}
		}
	}
	if len(columns) < 2 {
		return nil, errors.New("correlation needs at least two numeric columns")
	}

	idx := make([]int, len(columns))
	for i, c := range columns {
		idx[i] = f.ColumnIndex(c)
		if idx[i] < 0 {
			return nil, fmt.Errorf("column %q not found", c)
		}
		if !f.IsNumeric(idx[i]) {
			return nil, fmt.Errorf("column %q is not numeric", c)
		}
	}

	out := make(map[string]map[string]*float64, len(columns))
	for i, a := range columns {
		out[a] = make(map[string]*float64, len(columns))
		for j, b := range columns {
			xs, ys := pairs(f, idx[i], idx[j])
			r, err := Pearson(xs, ys)
			if err != nil || math.IsNaN(r) {
				out[a][b] = nil
				continue
			}
			r = math.Round(r*1e4) / 1e4
			out[a][b] = &r
		}
	}
	return out, nil
}

// Outliers is the IQR outlier report for one column.
type Outliers struct {
	Column     string    `json:"column"`
	Q1         float64   `json:"q1"`
	Q3         float64   `json:"q3"`
	IQR        float64   `json:"iqr"`
	LowerBound float64   `json:"lower_bound"`
	UpperBound float64   `json:"upper_bound"`
	Count      int       `json:"count"`
	Percentage float64   `json:"percentage"`
	Sample     []float64 `json:"sample"`
}

// maxOutlierSample bounds the values echoed back to the model.
const maxOutlierSample = 20

// DetectOutliers flags values outside [Q1 - k·IQR, Q3 + k·IQR].
func DetectOutliers(f *dataset.Frame, column string, k float64) (Outliers, error) {
	if k <= 0 {
		k = 1.5
	}
	values, err := f.Numeric(column)
	if err != nil {
		return Outliers{}, err
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	q1, q3 := Quantile(sorted, 0.25), Quantile(sorted, 0.75)
	iqr := q3 - q1
	o := Outliers{
		Column:     column,
		Q1:         q1,
		Q3:         q3,
		IQR:        iqr,
		LowerBound: q1 - k*iqr,
		UpperBound: q3 + k*iqr,
		Sample:     []float64{},
	}
	for _, v := range values {
		if v < o.LowerBound || v > o.UpperBound {
			o.Count++
			if len(o.Sample) < maxOutlierSample {
				o.Sample = append(o.Sample, v)
			}
		}
	}
	o.Percentage = math.Round(float64(o.Count)/float64(len(values))*1e4) / 100
	return o, nil
}
