package store

import "sort"

// rrfConstant dampens the influence of top ranks in Reciprocal Rank Fusion.
// 60 is the value used by Elasticsearch and Azure AI Search.
const rrfConstant = 60.0

type chunkKey struct {
	namespace string
	docPath   string
	index     int32
}

func keyOf(sc ScoredChunk) chunkKey {
	return chunkKey{sc.Namespace, sc.DocPath, sc.ChunkIndex}
}

// fuseRRF combines two ranked lists by summing reciprocal-rank scores:
// each item's fused score is the sum over lists of 1/(rank + rrfConstant),
// rank being the 1-based position within that list. Items appearing in both
// lists accumulate both contributions and beat single-list items of
// comparable rank.
func fuseRRF(vecResults, textResults []ScoredChunk, k int) []ScoredChunk {
	fused := make(map[chunkKey]*ScoredChunk)
	for _, list := range [][]ScoredChunk{vecResults, textResults} {
		for rank, sc := range list {
			contribution := 1.0 / (float64(rank+1) + rrfConstant)
			if existing, ok := fused[keyOf(sc)]; ok {
				existing.Score += contribution
				continue
			}
			sc.Score = contribution
			fused[keyOf(sc)] = &sc
		}
	}
	return sortAndTruncate(fused, k)
}

// fuseUnion merges the two candidate sets by normalized-score union: each
// list's scores are min-max normalized to [0, 1] and an item's fused score
// is the sum of its normalized per-source scores. Unlike RRF this preserves
// score magnitudes within each list, so the two hybrid modes can order
// ambiguous queries differently.
func fuseUnion(vecResults, textResults []ScoredChunk, k int) []ScoredChunk {
	fused := make(map[chunkKey]*ScoredChunk)
	for _, list := range [][]ScoredChunk{normalizeScores(vecResults), normalizeScores(textResults)} {
		for _, sc := range list {
			if existing, ok := fused[keyOf(sc)]; ok {
				existing.Score += sc.Score
				continue
			}
			fused[keyOf(sc)] = &sc
		}
	}
	return sortAndTruncate(fused, k)
}

// normalizeScores min-max normalizes a list's scores to [0, 1].
// A single-item or constant-score list normalizes to 1.0.
func normalizeScores(list []ScoredChunk) []ScoredChunk {
	if len(list) == 0 {
		return nil
	}
	minScore, maxScore := list[0].Score, list[0].Score
	for _, sc := range list[1:] {
		if sc.Score < minScore {
			minScore = sc.Score
		}
		if sc.Score > maxScore {
			maxScore = sc.Score
		}
	}

	out := make([]ScoredChunk, len(list))
	copy(out, list)
	span := maxScore - minScore
	for i := range out {
		if span == 0 {
			out[i].Score = 1.0
			continue
		}
		out[i].Score = (out[i].Score - minScore) / span
	}
	return out
}

func sortAndTruncate(fused map[chunkKey]*ScoredChunk, k int) []ScoredChunk {
	results := make([]ScoredChunk, 0, len(fused))
	for _, sc := range fused {
		results = append(results, *sc)
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		// Deterministic order for equal scores.
		if results[i].DocPath != results[j].DocPath {
			return results[i].DocPath < results[j].DocPath
		}
		return results[i].ChunkIndex < results[j].ChunkIndex
	})
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results
}
