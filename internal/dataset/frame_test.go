package dataset

import (
	"encoding/json"
	"testing"
)

func sampleFrame() *Frame {
	f, _ := newFrame([]string{"x", "", "x"}, [][]string{
		{"1", "a", "10"},
		{"2", "b"},
		{"3", "c", "30"},
	})
	return f
}

func TestNewFrameNamesColumns(t *testing.T) {
	f := sampleFrame()
	want := []string{"x", "Unnamed: 1", "x.1"}
	for i, c := range want {
		if f.Columns[i] != c {
			t.Errorf("column %d = %q, want %q", i, f.Columns[i], c)
		}
	}
	if f.Rows[1][2] != nil {
		t.Errorf("Expected short row to be padded, got %#v", f.Rows[1][2])
	}
}

func TestFrameHeadTail(t *testing.T) {
	f := sampleFrame()
	if got := f.Head(2).NumRows(); got != 2 {
		t.Errorf("Head(2) = %d rows", got)
	}
	if got := f.Tail(10).NumRows(); got != 3 {
		t.Errorf("Tail(10) = %d rows", got)
	}
	if got := f.Tail(1).Rows[0][0]; got != 3.0 {
		t.Errorf("Tail(1) first cell = %v", got)
	}
}

func TestFrameNumeric(t *testing.T) {
	f := sampleFrame()
	vals, err := f.Numeric("x.1")
	if err != nil {
		t.Fatalf("Numeric failed: %v", err)
	}
	if len(vals) != 2 || vals[1] != 30 {
		t.Errorf("Unexpected values %v", vals)
	}
	if _, err := f.Numeric("Unnamed: 1"); err == nil {
		t.Error("Expected error for text column")
	}
	if _, err := f.Numeric("missing"); err == nil {
		t.Error("Expected error for unknown column")
	}
}

func TestFrameColumnOriented(t *testing.T) {
	f := sampleFrame().Head(2)
	b, err := json.Marshal(f.ColumnOriented())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"Unnamed: 1":{"0":"a","1":"b"},"x":{"0":1,"1":2},"x.1":{"0":10,"1":null}}`
	if string(b) != want {
		t.Errorf("got %s\nwant %s", b, want)
	}
}
