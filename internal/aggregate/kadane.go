// Package aggregate selects the contiguous frame range with the highest
// aggregate target-object count via Kadane's maximum-subarray algorithm.
package aggregate

import "sort"

// Select returns the inclusive [start, end] frame id range with the
// highest sum in results, treating results as a dense sequence ordered by
// frame id (the caller's map is not assumed to preserve order). Zero-hit
// frames must already be normalized to -1 by the caller before results
// reaches here.
//
// Panics if results is empty — a job always has at least one frame.
func Select(results map[int]int) (start, end int) {
	ids := make([]int, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		panic("aggregate: Select called with no frame results")
	}
	sort.Ints(ids)

	currentSum := 0
	startID := ids[0]
	endID := ids[0]
	bestStart := ids[0]
	bestEnd := ids[0]
	bestSum := results[ids[0]]
	currentSum = results[ids[0]]

	for _, id := range ids[1:] {
		v := results[id]
		if v > currentSum+v {
			startID = id
			endID = id
			currentSum = v
		} else {
			currentSum += v
			endID = id
		}
		if currentSum > bestSum {
			bestSum = currentSum
			bestStart = startID
			bestEnd = endID
		}
	}

	return bestStart, bestEnd
}
