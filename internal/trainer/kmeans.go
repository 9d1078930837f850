package trainer

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// restarts per fit; the best inertia across restarts wins.
const kmeansRestarts = 10

const maxIterations = 300

// fitKMeans runs Lloyd's algorithm with k-means++ seeding. The rng is
// seeded by the caller, so a given dataset and seed always produce the
// same centroids regardless of where the fit runs.
func fitKMeans(points [][]float64, k int, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))

	var best [][]float64
	bestInertia := math.Inf(1)
	for r := 0; r < kmeansRestarts; r++ {
		centroids := seedCentroids(points, k, rng)
		inertia := lloyd(points, centroids)
		if inertia < bestInertia {
			bestInertia = inertia
			best = centroids
		}
	}
	return best
}

// seedCentroids picks k starting centroids with k-means++ weighting:
// each next centroid is sampled proportionally to its squared distance
// from the nearest one already chosen.
func seedCentroids(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	first := append([]float64(nil), points[rng.Intn(len(points))]...)
	centroids = append(centroids, first)

	dist2 := make([]float64, len(points))
	for len(centroids) < k {
		var total float64
		latest := centroids[len(centroids)-1]
		for i, p := range points {
			d := floats.Distance(p, latest, 2)
			d *= d
			if len(centroids) == 1 || d < dist2[i] {
				dist2[i] = d
			}
			total += dist2[i]
		}

		if total == 0 {
			// All points coincide with a centroid; fall back to uniform.
			centroids = append(centroids, append([]float64(nil), points[rng.Intn(len(points))]...))
			continue
		}

		target := rng.Float64() * total
		idx := len(points) - 1
		var cum float64
		for i, d := range dist2 {
			cum += d
			if cum >= target {
				idx = i
				break
			}
		}
		centroids = append(centroids, append([]float64(nil), points[idx]...))
	}
	return centroids
}

// lloyd iterates assignment and centroid updates in place until the
// assignments stop moving, returning the final inertia.
func lloyd(points [][]float64, centroids [][]float64) float64 {
	k := len(centroids)
	dims := len(centroids[0])
	assign := make([]int, len(points))
	for i := range assign {
		assign[i] = -1
	}

	sums := make([][]float64, k)
	counts := make([]int, k)
	for j := range sums {
		sums[j] = make([]float64, dims)
	}

	for iter := 0; iter < maxIterations; iter++ {
		moved := false
		for i, p := range points {
			nearest, best := 0, math.Inf(1)
			for j, c := range centroids {
				if d := floats.Distance(p, c, 2); d < best {
					nearest, best = j, d
				}
			}
			if assign[i] != nearest {
				assign[i] = nearest
				moved = true
			}
		}
		if !moved {
			break
		}

		for j := range sums {
			for d := range sums[j] {
				sums[j][d] = 0
			}
			counts[j] = 0
		}
		for i, p := range points {
			floats.Add(sums[assign[i]], p)
			counts[assign[i]]++
		}
		for j := range centroids {
			if counts[j] == 0 {
				continue // empty cluster keeps its centroid
			}
			for d := range centroids[j] {
				centroids[j][d] = sums[j][d] / float64(counts[j])
			}
		}
	}

	var inertia float64
	for i, p := range points {
		d := floats.Distance(p, centroids[assign[i]], 2)
		inertia += d * d
	}
	return inertia
}
