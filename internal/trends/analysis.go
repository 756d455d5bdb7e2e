package trends

import (
	"fmt"
	"math"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/thesisflow/thesisflow/internal/cluster"
	"github.com/thesisflow/thesisflow/internal/model"
)

const (
	minClusterItems  = 6
	minClusterSize   = 2
	densityThreshold = 0.84
	clusterSeed      = 42
)

// ItemsFromPapers converts search results into job items.
func ItemsFromPapers(papers []model.Paper) []Item {
	items := make([]Item, 0, len(papers))
	for _, p := range papers {
		items = append(items, Item{
			Title:    p.Title,
			URL:      p.URL,
			Source:   p.Source,
			Abstract: p.Abstract,
			Year:     p.Year,
		})
	}
	return items
}

// ParseYear reads the leading four digits of a year string, or 0.
func ParseYear(y string) int {
	y = strings.TrimSpace(y)
	if len(y) > 4 {
		y = y[:4]
	}
	n, err := strconv.Atoi(y)
	if err != nil {
		return 0
	}
	return n
}

// FilterTimeframe drops items older than the timeframe, rounded up to whole
// years. Items without a year are kept.
func FilterTimeframe(items []Item, months int, now time.Time) []Item {
	maxAge := max(1, int(math.Ceil(float64(months)/12)))
	current := now.UTC().Year()

	out := make([]Item, 0, len(items))
	for _, it := range items {
		y := ParseYear(it.Year)
		if y == 0 || current-y <= maxAge {
			out = append(out, it)
		}
	}
	return out
}

// ComputeMetrics scores relevance to the query, host diversity and coverage.
func ComputeMetrics(query string, items []Item) Metrics {
	n := len(items)

	hosts := make(map[string]bool)
	for _, it := range items {
		if it.URL == "" {
			continue
		}
		u, err := url.Parse(it.URL)
		if err != nil || u.Hostname() == "" {
			continue
		}
		hosts[strings.TrimPrefix(u.Hostname(), "www.")] = true
	}

	var diversity float64
	if n > 0 {
		diversity = math.Min(1, float64(len(hosts))/float64(max(5, n/2)))
	}

	var tokens []string
	for _, t := range strings.Fields(strings.ToLower(query)) {
		if len(t) > 2 {
			tokens = append(tokens, t)
		}
	}

	relevance := 0.6
	if len(tokens) > 0 && n > 0 {
		denom := float64(min(5, len(tokens)))
		var sum float64
		for _, it := range items {
			title := strings.ToLower(it.Title)
			matches := 0
			for _, tok := range tokens {
				if strings.Contains(title, tok) {
					matches++
				}
			}
			sum += math.Min(1, float64(matches)/denom)
		}
		relevance = 0.6 + 0.4*(sum/float64(n))
	}

	return Metrics{
		Relevance: relevance,
		Diversity: diversity,
		Coverage:  math.Min(1, float64(n)/20),
		Sources:   n,
	}
}

// ClusterCount picks k for n items.
func ClusterCount(n int) int {
	k := int(math.Round(math.Sqrt(float64(n) / 2)))
	return max(2, min(8, k))
}

// BuildClusters groups items by topic. K-means runs first; when it yields
// fewer than two usable groups, connected components over a cosine threshold
// are used instead.
func BuildClusters(items []Item, now time.Time) []Cluster {
	n := len(items)
	if n < minClusterItems {
		return []Cluster{}
	}

	vectors := make([]cluster.Vec, n)
	for i, it := range items {
		vectors[i] = cluster.Embed(it.Title, it.Abstract)
	}

	k := ClusterCount(n)
	res := cluster.KMeans(vectors, k, cluster.DefaultMaxIter, clusterSeed)
	groups := make([][]int, k)
	for i, label := range res.Labels {
		groups[label] = append(groups[label], i)
	}

	var clusters []Cluster
	for _, g := range groups {
		if len(g) < minClusterSize {
			continue
		}
		clusters = append(clusters, newCluster(items, g, fmt.Sprintf("c%d", len(clusters)), fmt.Sprintf("Cluster %d", len(clusters)+1)))
	}

	if len(clusters) < 2 {
		clusters = clusters[:0]
		for i, g := range cluster.DensityClusters(vectors, densityThreshold, minClusterSize) {
			clusters = append(clusters, newCluster(items, g, fmt.Sprintf("d%d", i), fmt.Sprintf("Group %d", i+1)))
		}
	}

	for i := range clusters {
		clusters[i].Score = clusterScore(items, clusters[i], now.UTC().Year())
	}
	if clusters == nil {
		return []Cluster{}
	}
	return clusters
}

func newCluster(items []Item, indices []int, id, fallback string) Cluster {
	titles := make([]string, len(indices))
	for i, ix := range indices {
		titles[i] = items[ix].Title
	}
	label := fallback
	if top := cluster.TopTokens(titles, 3); len(top) > 0 {
		label = strings.Join(top, ", ")
	}
	return Cluster{ID: id, Label: label, Size: len(indices), Indices: indices}
}

// clusterScore weighs recency at 0.6 and size at 0.4. Recency falls to
// zero for groups whose average year is five or more years old.
func clusterScore(items []Item, c Cluster, currentYear int) float64 {
	avg := float64(currentYear)
	var sum, count int
	for _, ix := range c.Indices {
		if y := ParseYear(items[ix].Year); y != 0 {
			sum += y
			count++
		}
	}
	if count > 0 {
		avg = float64(sum) / float64(count)
	}
	recency := 1 - math.Min(1, (float64(currentYear)-avg)/5)
	size := math.Min(1, float64(c.Size)/10)
	return 0.6*recency + 0.4*size
}

// BuildTimeline counts items per known year, oldest first.
func BuildTimeline(items []Item) []TimelinePoint {
	counts := make(map[int]int)
	for _, it := range items {
		if y := ParseYear(it.Year); y != 0 {
			counts[y]++
		}
	}
	years := make([]int, 0, len(counts))
	for y := range counts {
		years = append(years, y)
	}
	slices.Sort(years)

	out := make([]TimelinePoint, len(years))
	for i, y := range years {
		out[i] = TimelinePoint{Period: strconv.Itoa(y), Count: counts[y]}
	}
	return out
}

// TopClusters returns up to n clusters by descending score.
func TopClusters(clusters []Cluster, n int) []Cluster {
	sorted := slices.Clone(clusters)
	slices.SortStableFunc(sorted, func(a, b Cluster) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	return sorted[:min(n, len(sorted))]
}
