package search

// DedupResults collapses duplicate ids in a fused list, keeping the
// highest-scored occurrence and preserving the surviving entries'
// relative order.
func DedupResults(results []FusionResult) []FusionResult {
	best := make(map[string]float64, len(results))
	for _, r := range results {
		if score, seen := best[r.ID()]; !seen || r.Score() > score {
			best[r.ID()] = r.Score()
		}
	}
	out := make([]FusionResult, 0, len(best))
	emitted := make(map[string]bool, len(best))
	for _, r := range results {
		if emitted[r.ID()] || r.Score() != best[r.ID()] {
			continue
		}
		emitted[r.ID()] = true
		out = append(out, r)
	}
	return out
}

// CapPerFile bounds how many results one file contributes, keeping the
// highest-ranked ones. fileOf maps a result id to its file; an empty
// file (virtual matches, unresolvable ids) is never capped. maxPerFile
// <= 0 disables the cap.
func CapPerFile(results []FusionResult, fileOf func(id string) string, maxPerFile int) []FusionResult {
	if maxPerFile <= 0 || fileOf == nil {
		return results
	}
	counts := make(map[string]int)
	out := results[:0]
	for _, r := range results {
		file := fileOf(r.ID())
		if file == "" {
			out = append(out, r)
			continue
		}
		if counts[file] >= maxPerFile {
			continue
		}
		counts[file]++
		out = append(out, r)
	}
	return out
}
