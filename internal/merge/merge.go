// Package merge implements the k-way merge of sorted run files described
// in spec.md §4.D: a min-heap keyed by SortKey, one streaming reader per
// run, emitting records in fully sorted order.
//
// The heap shape and pop/advance/push-back loop are adapted directly from
// the teacher's kWayMergeToKafka in internal/sort/external_sort.go, with
// the Kafka reader/writer swapped for runfile.Reader/runfile.Writer and
// the int64/string sort key swapped for the 20-byte SortKey.
package merge

import (
	"container/heap"
	"io"

	"github.com/pkg/errors"

	"github.com/movableink/csvutils-go/internal/runfile"
)

// heapItem is one candidate record in the merge, tagged with the index
// of the source reader it came from so the merger can pull that reader's
// next record once this one is emitted. Back-references are expressed as
// an integer index into an indexable slice of readers, not a pointer, per
// spec.md §9's design note.
type heapItem struct {
	rec    runfile.Record
	source int
}

type recordHeap []heapItem

func (h recordHeap) Len() int { return len(h) }
func (h recordHeap) Less(i, j int) bool {
	return h[i].rec.Key.Less(h[j].rec.Key)
}
func (h recordHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *recordHeap) Push(x any)   { *h = append(*h, x.(heapItem)) }
func (h *recordHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Merge streams a fully sorted sequence of records from sources (one
// reader per run file, each already positioned at the start of its run)
// into dst, preserving SortKey order across all sources. It returns the
// number of records written.
//
// Tie-breaking on equal SortKeys never actually occurs, because SortKey
// already incorporates Position, which is unique within a session; the
// heap's ordering is therefore total, matching spec.md §4.D.
func Merge(sources []io.Reader, dst *runfile.Writer) (int64, error) {
	readers := make([]*runfile.Reader, len(sources))
	for i, src := range sources {
		readers[i] = runfile.NewReader(src)
	}

	h := make(recordHeap, 0, len(readers))
	for i, r := range readers {
		rec, err := r.Next()
		if err == io.EOF {
			continue
		}
		if err != nil {
			return 0, errors.Wrapf(err, "merge: read first record from source %d", i)
		}
		h = append(h, heapItem{rec: rec, source: i})
	}
	heap.Init(&h)

	var count int64
	for h.Len() > 0 {
		item := heap.Pop(&h).(heapItem)
		if err := dst.Write(item.rec); err != nil {
			return count, errors.Wrap(err, "merge: write merged record")
		}
		count++

		next, err := readers[item.source].Next()
		if err == io.EOF {
			continue
		}
		if err != nil {
			return count, errors.Wrapf(err, "merge: read next record from source %d", item.source)
		}
		heap.Push(&h, heapItem{rec: next, source: item.source})
	}

	return count, nil
}
