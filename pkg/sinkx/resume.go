package sinkx

import "sort"

// Index is the resume view of a record log: the latest record per slot.
type Index struct {
	latest map[Key]Record
}

// NewIndex builds an index from records in write order.
func NewIndex(records []Record) *Index {
	ix := &Index{latest: make(map[Key]Record, len(records))}
	for _, rec := range records {
		ix.latest[rec.Key()] = rec
	}
	return ix
}

// Done reports whether the slot already holds a non-error terminal record.
func (ix *Index) Done(question string, rolloutIndex int) bool {
	rec, ok := ix.Get(question, rolloutIndex)
	return ok && rec.Done()
}

// Get returns the latest record of a slot.
func (ix *Index) Get(question string, rolloutIndex int) (Record, bool) {
	if ix == nil {
		return Record{}, false
	}
	rec, ok := ix.latest[Key{Question: question, RolloutIndex: rolloutIndex}]
	return rec, ok
}

// Len is the number of distinct slots.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.latest)
}

// Completed is the number of slots that are done.
func (ix *Index) Completed() int {
	if ix == nil {
		return 0
	}
	n := 0
	for _, rec := range ix.latest {
		if rec.Done() {
			n++
		}
	}
	return n
}

// Question returns the done records of one question ordered by rollout
// index.
func (ix *Index) Question(question string) []Record {
	if ix == nil {
		return nil
	}
	var out []Record
	for k, rec := range ix.latest {
		if k.Question == question && rec.Done() {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RolloutIndex < out[j].RolloutIndex })
	return out
}
