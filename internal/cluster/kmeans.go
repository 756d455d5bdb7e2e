package cluster

import (
	"math"
	"math/rand/v2"
)

// DefaultMaxIter bounds KMeans refinement rounds.
const DefaultMaxIter = 30

// Result holds a label per input vector and the final centroids.
type Result struct {
	Labels    []int
	Centroids []Vec
}

// KMeans clusters vectors by cosine distance with k-means++ seeding.
// The same seed always yields the same result. A cluster that loses all its
// members keeps its previous centroid.
func KMeans(vectors []Vec, k, maxIter int, seed uint64) Result {
	n := len(vectors)
	if maxIter <= 0 {
		maxIter = DefaultMaxIter
	}
	if n == 0 || k <= 1 {
		return Result{Labels: make([]int, n), Centroids: []Vec{MeanVec(vectors)}}
	}
	k = min(k, n)

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	centroids := seedCentroids(vectors, k, rng)

	labels := make([]int, n)
	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, v := range vectors {
			best, bestSim := 0, math.Inf(-1)
			for c, centroid := range centroids {
				if sim := Cosine(v, centroid); sim > bestSim {
					best, bestSim = c, sim
				}
			}
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}

		groups := make([][]Vec, len(centroids))
		for i, v := range vectors {
			groups[labels[i]] = append(groups[labels[i]], v)
		}
		for c := range centroids {
			if len(groups[c]) > 0 {
				centroids[c] = MeanVec(groups[c])
			}
		}
		if !changed {
			break
		}
	}
	return Result{Labels: labels, Centroids: centroids}
}

func seedCentroids(vectors []Vec, k int, rng *rand.Rand) []Vec {
	n := len(vectors)
	centroids := make([]Vec, 0, k)
	centroids = append(centroids, vectors[rng.IntN(n)])

	d2 := make([]float64, n)
	for len(centroids) < k {
		var sum float64
		for i, v := range vectors {
			best := math.Inf(1)
			for _, c := range centroids {
				if d := 1 - Cosine(v, c); d < best {
					best = d
				}
			}
			d2[i] = best * best
			sum += d2[i]
		}
		if sum == 0 {
			sum = 1
		}

		r := rng.Float64() * sum
		idx := 0
		for ; idx < n; idx++ {
			r -= d2[idx]
			if r <= 0 {
				break
			}
		}
		centroids = append(centroids, vectors[min(idx, n-1)])
	}
	return centroids
}

// DensityClusters returns connected components of the graph joining vectors
// with cosine ≥ threshold, keeping components of at least minSize members.
func DensityClusters(vectors []Vec, threshold float64, minSize int) [][]int {
	n := len(vectors)
	if n == 0 {
		return nil
	}

	adj := make([][]int, n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if Cosine(vectors[i], vectors[j]) >= threshold {
				adj[i] = append(adj[i], j)
				adj[j] = append(adj[j], i)
			}
		}
	}

	visited := make([]bool, n)
	var clusters [][]int
	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		visited[i] = true
		comp := []int{}
		stack := []int{i}
		for len(stack) > 0 {
			v := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			comp = append(comp, v)
			for _, nb := range adj[v] {
				if !visited[nb] {
					visited[nb] = true
					stack = append(stack, nb)
				}
			}
		}
		if len(comp) >= minSize {
			clusters = append(clusters, comp)
		}
	}
	return clusters
}
