package trends

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestFilterTimeframe(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	items := []Item{{Year: "2025"}, {Year: "2024"}, {Year: "2023"}, {Year: ""}, {Year: "2020-05"}}

	tests := []struct {
		months int
		want   int
	}{
		{months: 6, want: 3},
		{months: 12, want: 3},
		{months: 24, want: 4},
		{months: 60, want: 5},
	}
	for _, tt := range tests {
		if got := len(FilterTimeframe(items, tt.months, now)); got != tt.want {
			t.Errorf("months=%d: kept %d, want %d", tt.months, got, tt.want)
		}
	}
}

func TestComputeMetrics(t *testing.T) {
	items := []Item{
		{Title: "Graph neural networks for molecules", URL: "https://www.nature.com/a"},
		{Title: "Neural scaling laws", URL: "https://arxiv.org/abs/1"},
		{Title: "Unrelated", URL: "https://nature.com/b"},
		{Title: "No link"},
	}
	m := ComputeMetrics("graph neural networks", items)

	// two hosts over max(5, 2)
	if !approx(m.Diversity, 0.4) {
		t.Errorf("diversity = %v", m.Diversity)
	}
	// per item: 3/3, 1/3, 0, 0
	if want := 0.6 + 0.4*((1+1.0/3)/4); !approx(m.Relevance, want) {
		t.Errorf("relevance = %v, want %v", m.Relevance, want)
	}
	if !approx(m.Coverage, 0.2) || m.Sources != 4 {
		t.Errorf("coverage = %v, sources = %d", m.Coverage, m.Sources)
	}

	empty := ComputeMetrics("ab", nil)
	if empty.Relevance != 0.6 || empty.Diversity != 0 || empty.Coverage != 0 {
		t.Errorf("empty metrics = %+v", empty)
	}
}

func TestClusterCount(t *testing.T) {
	for n, want := range map[int]int{6: 2, 18: 3, 50: 5, 200: 8} {
		if got := ClusterCount(n); got != want {
			t.Errorf("ClusterCount(%d) = %d, want %d", n, got, want)
		}
	}
}

func topicItems() []Item {
	var items []Item
	for _, title := range []string{
		"protein folding structure prediction",
		"structure prediction protein folding",
		"folding protein structure prediction",
		"prediction folding structure protein",
	} {
		items = append(items, Item{Title: title, Year: "2024"})
	}
	for _, title := range []string{
		"solar photovoltaic efficiency perovskite",
		"perovskite solar photovoltaic efficiency",
		"efficiency perovskite solar photovoltaic",
		"photovoltaic efficiency solar perovskite",
	} {
		items = append(items, Item{Title: title, Year: "2020"})
	}
	return items
}

func TestBuildClusters(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clusters := BuildClusters(topicItems(), now)
	if len(clusters) != 2 {
		t.Fatalf("got %d clusters, want 2: %+v", len(clusters), clusters)
	}

	for _, c := range clusters {
		if c.Size != 4 || !strings.HasPrefix(c.ID, "c") {
			t.Errorf("unexpected cluster %+v", c)
		}
		first := c.Indices[0]
		for _, ix := range c.Indices {
			if (ix < 4) != (first < 4) {
				t.Errorf("cluster mixes topics: %v", c.Indices)
			}
		}
		// recency: 2024 -> 0.8, 2020 -> 0; size 4 -> 0.4
		want := 0.6*0.0 + 0.4*0.4
		if first < 4 {
			want = 0.6*0.8 + 0.4*0.4
		}
		if !approx(c.Score, want) {
			t.Errorf("score = %v, want %v", c.Score, want)
		}
	}
}

func TestBuildClusters_TooFewItems(t *testing.T) {
	got := BuildClusters(topicItems()[:5], time.Now())
	if got == nil || len(got) != 0 {
		t.Fatalf("got %+v, want empty", got)
	}
}

func TestBuildTimeline(t *testing.T) {
	got := BuildTimeline([]Item{{Year: "2023"}, {Year: "2021"}, {Year: "2023"}, {Year: ""}, {Year: "n/a"}})
	want := []TimelinePoint{{Period: "2021", Count: 1}, {Period: "2023", Count: 2}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("timeline mismatch (-want +got):\n%s", diff)
	}
}

func TestTopClusters(t *testing.T) {
	in := []Cluster{{ID: "a", Score: 0.1}, {ID: "b", Score: 0.9}, {ID: "c", Score: 0.5}}
	got := TopClusters(in, 2)
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "c" {
		t.Errorf("TopClusters = %+v", got)
	}
	if in[0].ID != "a" {
		t.Error("input must not be reordered")
	}
}
