package retrieval

import "sort"

// FusionWeights parameterizes Reciprocal Rank Fusion.
type FusionWeights struct {
	K             int
	VectorWeight  float64
	KeywordWeight float64
}

// Fuse combines a vector-search list and a keyword-search list into one
// ranked list by Reciprocal Rank Fusion. rank_* is 1-based over each input
// list's own order; a list a candidate is absent from contributes 0.
// Content and payload are taken from the vector result when present, else
// the keyword result. Output is sorted by descending fusionScore, ties
// broken by (original vector rank ascending, id ascending).
func Fuse(vectorList, keywordList []Ranked, w FusionWeights) []Ranked {
	type merged struct {
		ranked     Ranked
		hasVector  bool
		hasKeyword bool
	}

	byID := make(map[string]*merged, len(vectorList)+len(keywordList))
	order := make([]string, 0, len(vectorList)+len(keywordList))

	for _, v := range vectorList {
		m := &merged{ranked: v, hasVector: true}
		byID[v.ID] = m
		order = append(order, v.ID)
	}

	for _, k := range keywordList {
		if m, ok := byID[k.ID]; ok {
			m.hasKeyword = true
			m.ranked.KeywordScore = k.KeywordScore
			continue
		}
		m := &merged{ranked: k, hasKeyword: true}
		byID[k.ID] = m
		order = append(order, k.ID)
	}

	vectorRank := byRankedIDRank(vectorList)
	keywordRank := byRankedIDRank(keywordList)

	results := make([]Ranked, 0, len(order))
	for _, id := range order {
		m := byID[id]
		rrf := 0.0
		if rv, ok := vectorRank[id]; ok {
			rrf += w.VectorWeight / (float64(w.K) + float64(rv))
		}
		if rk, ok := keywordRank[id]; ok {
			rrf += w.KeywordWeight / (float64(w.K) + float64(rk))
		}

		r := m.ranked
		r.FusionScore = &rrf
		r.Score = rrf
		if m.hasVector && m.hasKeyword {
			r.SearchType = SearchHybrid
		} else if m.hasVector {
			r.SearchType = SearchVectorOnly
		} else {
			r.SearchType = SearchKeywordOnly
		}
		results = append(results, r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		ri, iok := vectorRank[results[i].ID]
		rj, jok := vectorRank[results[j].ID]
		switch {
		case iok && jok && ri != rj:
			return ri < rj
		case iok && !jok:
			return true
		case !iok && jok:
			return false
		}
		return results[i].ID < results[j].ID
	})

	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}

func byRankedIDRank(results []Ranked) map[string]int {
	ranks := make(map[string]int, len(results))
	for i, r := range results {
		ranks[r.ID] = i + 1
	}
	return ranks
}
