package objgraph

import "math"

// maxWeightAssignment solves the assignment problem for a rows×cols weight
// matrix, maximizing the total weight. It returns, for every row, the
// assigned column or -1. Rows and columns may differ in number; the
// matrix is padded with zero weights.
//
// This is the O(n³) potentials formulation of the Hungarian algorithm.
// Iteration order is fixed, so equal inputs give equal outputs.
func maxWeightAssignment(weights [][]int64, rows, cols int) []int {
	n := max(rows, cols)
	result := make([]int, rows)
	for i := range result {
		result[i] = -1
	}
	if n == 0 {
		return result
	}
	var maxW int64
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			maxW = max(maxW, weights[i][j])
		}
	}
	cost := func(i, j int) int64 {
		if i < rows && j < cols {
			return maxW - weights[i][j]
		}
		return maxW
	}

	const inf = math.MaxInt64 / 4
	u := make([]int64, n+1)
	v := make([]int64, n+1)
	p := make([]int, n+1) // p[j]: row (1-based) assigned to column j
	way := make([]int, n+1)
	for i := 1; i <= n; i++ {
		p[0] = i
		j0 := 0
		minv := make([]int64, n+1)
		used := make([]bool, n+1)
		for j := range minv {
			minv[j] = inf
		}
		for {
			used[j0] = true
			i0 := p[j0]
			delta := int64(inf)
			j1 := 0
			for j := 1; j <= n; j++ {
				if used[j] {
					continue
				}
				cur := cost(i0-1, j-1) - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			for j := 0; j <= n; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}
		for {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
			if j0 == 0 {
				break
			}
		}
	}
	for j := 1; j <= n; j++ {
		i := p[j] - 1
		if i >= 0 && i < rows && j-1 < cols {
			result[i] = j - 1
		}
	}
	return result
}
