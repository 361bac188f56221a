package engine

import "sort"

// rebatch groups input indices into sub-batches. Inputs are ordered by
// decreasing length so that sub-batches hold similar lengths; maxBatchSize 0
// keeps the whole batch in input order.
func rebatch(lengths []int, maxBatchSize int, policy BatchType) [][]int {
	if len(lengths) == 0 {
		return nil
	}
	idx := make([]int, len(lengths))
	for i := range idx {
		idx[i] = i
	}
	if maxBatchSize == 0 {
		return [][]int{idx}
	}
	sort.SliceStable(idx, func(a, b int) bool { return lengths[idx[a]] > lengths[idx[b]] })
	var out [][]int
	var cur []int
	longest := 0
	for _, i := range idx {
		if len(cur) > 0 && !fits(len(cur)+1, max(longest, lengths[i]), maxBatchSize, policy) {
			out = append(out, cur)
			cur, longest = nil, 0
		}
		cur = append(cur, i)
		longest = max(longest, lengths[i])
	}
	return append(out, cur)
}

func fits(count, longest, maxBatchSize int, policy BatchType) bool {
	if policy == BatchTokens {
		return count*longest <= maxBatchSize
	}
	return count <= maxBatchSize
}
