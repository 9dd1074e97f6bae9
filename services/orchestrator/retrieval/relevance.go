// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"math"

	"github.com/AleutianAI/AleutianAssist/services/orchestrator/datatypes"
)

// ZScoreThreshold is the strict lower bound a passage's z-score must exceed.
const ZScoreThreshold = 1.0

// FilterStats describes one application of the relevance filter.
type FilterStats struct {
	Total   int
	Kept    int
	Mean    float64
	StdDev  float64
	Applied bool
}

// ZScores returns (x-μ)/σ for each score using the sample standard
// deviation (divisor n-1).
//
// # Description
//
// When every score is identical σ is zero and each z-score is NaN. NaN never
// compares greater than the threshold, so a flat score distribution keeps
// nothing. The equality check runs before the division so that float noise
// in the mean cannot turn 0/0 into a huge finite value.
//
// # Inputs
//
//   - scores: Retrieval scores from a single call. Length must be >= 2.
//
// # Outputs
//
//   - []float64: One z-score per input, same order.
//   - float64: Mean.
//   - float64: Sample standard deviation.
func ZScores(scores []float64) ([]float64, float64, float64) {
	n := len(scores)
	z := make([]float64, n)
	if n < 2 {
		for i := range z {
			z[i] = math.NaN()
		}
		return z, 0, 0
	}

	var sum float64
	flat := true
	for _, s := range scores {
		sum += s
		if s != scores[0] {
			flat = false
		}
	}
	mean := sum / float64(n)

	var sq float64
	for _, s := range scores {
		d := s - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(n-1))

	for i, s := range scores {
		if flat || std == 0 {
			z[i] = math.NaN()
			continue
		}
		z[i] = (s - mean) / std
	}
	if flat {
		std = 0
	}
	return z, mean, std
}

// FilterScores marks each index keep (true) or drop (false).
//
// Fewer than two scores are all kept. Otherwise an index is kept iff its
// z-score is strictly greater than ZScoreThreshold.
func FilterScores(scores []float64) []bool {
	keep := make([]bool, len(scores))
	if len(scores) < 2 {
		for i := range keep {
			keep[i] = true
		}
		return keep
	}
	z, _, _ := ZScores(scores)
	for i := range z {
		keep[i] = z[i] > ZScoreThreshold
	}
	return keep
}

// ApplyRelevanceFilter returns the results that survive FilterScores, in
// their original order.
func ApplyRelevanceFilter(results []datatypes.RetrievalResult) ([]datatypes.RetrievalResult, FilterStats) {
	stats := FilterStats{Total: len(results)}
	if len(results) < 2 {
		stats.Kept = len(results)
		return results, stats
	}

	scores := make([]float64, len(results))
	for i, r := range results {
		scores[i] = r.Score
	}
	_, stats.Mean, stats.StdDev = ZScores(scores)
	stats.Applied = true

	keep := FilterScores(scores)
	kept := make([]datatypes.RetrievalResult, 0, len(results))
	for i, r := range results {
		if keep[i] {
			kept = append(kept, r)
		}
	}
	stats.Kept = len(kept)
	return kept, stats
}
