package model

import "testing"

func TestPaper_PublicationYear(t *testing.T) {
	t.Parallel()

	tests := []struct {
		year string
		want int
	}{
		{"2021", 2021},
		{"2019-05-01", 2019},
		{" 2020 ", 2020},
		{"", 0},
		{"n.d.", 0},
	}

	for _, tt := range tests {
		t.Run(tt.year, func(t *testing.T) {
			t.Parallel()
			if got := (Paper{Year: tt.year}).PublicationYear(); got != tt.want {
				t.Errorf("PublicationYear(%q) = %d, want %d", tt.year, got, tt.want)
			}
		})
	}
}

func TestPaper_DedupeKey(t *testing.T) {
	t.Parallel()

	a := Paper{Title: "  Graph Neural Networks "}
	b := Paper{Title: "graph neural networks"}
	if a.DedupeKey() != b.DedupeKey() {
		t.Errorf("keys differ: %q vs %q", a.DedupeKey(), b.DedupeKey())
	}
}
