package pipeline

// Shard returns the contiguous slice of units assigned to process
// instance `index` out of `count` cooperating instances. The final
// shard absorbs the division remainder so that shards partition the
// input exactly: no gaps, no overlaps, no drops.
func Shard(units []WorkUnit, index, count int) ([]WorkUnit, error) {
	if count <= 0 {
		return nil, configErrorf("shard count must be positive, got %d", count)
	}
	if index < 0 || index >= count {
		return nil, configErrorf("shard index %d out of range [0, %d)", index, count)
	}

	segment := len(units) / count
	start := index * segment
	if index == count-1 {
		return units[start:], nil
	}
	return units[start : start+segment], nil
}

// Batches groups units into fixed-size batches in original order; the
// last batch may be shorter.
func Batches(units []WorkUnit, size int) ([][]WorkUnit, error) {
	if size <= 0 {
		return nil, configErrorf("batch size must be positive, got %d", size)
	}

	var out [][]WorkUnit
	for start := 0; start < len(units); start += size {
		end := start + size
		if end > len(units) {
			end = len(units)
		}
		out = append(out, units[start:end])
	}
	return out, nil
}
