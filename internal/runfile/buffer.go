package runfile

// Buffer holds the in-memory batch of Records pending flush, tracking an
// estimated byte footprint against a configured budget. It implements
// spec.md §4.B verbatim: an empty buffer is never flushed, and a row is
// always admitted even if it alone exceeds the budget (the flush check
// only fires when the buffer is already non-empty).
type Buffer struct {
	BudgetBytes int

	records   []Record
	footprint int
}

// NewBuffer returns an empty Buffer bounded by budgetBytes.
func NewBuffer(budgetBytes int) *Buffer {
	return &Buffer{BudgetBytes: budgetBytes}
}

// ShouldFlushBefore reports whether admitting a row of nextSize bytes
// would overflow the budget, per spec.md §4.B: "When footprint + next_row
// > budget and the buffer is non-empty, the buffer is handed to the Run
// Writer". Flushing happens before admission, not after.
func (b *Buffer) ShouldFlushBefore(nextSize int) bool {
	return len(b.records) > 0 && b.footprint+nextSize > b.BudgetBytes
}

// Add admits rec, whose estimated size is size (see EstimatedSize).
func (b *Buffer) Add(rec Record, size int) {
	b.records = append(b.records, rec)
	b.footprint += size
}

// Len reports the number of records currently buffered.
func (b *Buffer) Len() int { return len(b.records) }

// Empty reports whether the buffer holds no records.
func (b *Buffer) Empty() bool { return len(b.records) == 0 }

// Records returns the buffered records. The caller may sort them in
// place (SortRecords does); Reset must be called afterward to start a
// fresh batch.
func (b *Buffer) Records() []Record { return b.records }

// Reset clears the buffer for the next batch.
func (b *Buffer) Reset() {
	b.records = nil
	b.footprint = 0
}

// MemoryFootprint returns the estimated byte footprint of the current
// batch, used by the engine to track spec.md §6's max_row_memory_usage
// summary field. It is recomputed from scratch by summing EstimatedSize
// over the buffered records, so when every Add was given EstimatedSize
// it equals the running footprint; it does not measure actual heap use.
func (b *Buffer) MemoryFootprint() int {
	n := 0
	for _, rec := range b.records {
		n += EstimatedSize(rec)
	}
	return n
}
