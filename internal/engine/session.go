// Package engine ties Key Derivation, the Run Buffer/Writer, the k-way
// Merger, the Cap Filter, and the Binary COPY Encoder together behind the
// opaque session object spec.md §6 describes. It is the one place in the
// module where those leaf packages are sequenced.
package engine

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/grailbio/base/log"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	kafka "github.com/segmentio/kafka-go"

	"github.com/movableink/csvutils-go/internal/copyformat"
	"github.com/movableink/csvutils-go/internal/csvsource"
	"github.com/movableink/csvutils-go/internal/kafkasource"
	"github.com/movableink/csvutils-go/internal/key"
	"github.com/movableink/csvutils-go/internal/merge"
	"github.com/movableink/csvutils-go/internal/runfile"
	"github.com/movableink/csvutils-go/internal/validate"
)

// Error categories, used as keys into Summary.FirstErrors. These name
// behavioural kinds (spec.md §7), not Go error types.
const (
	categoryInputFormat    = "InputFormat"
	categoryValidation     = "Validation"
	categorySchemaMismatch = "SchemaMismatch"
	categoryIO             = "IO"
	categoryProgrammer     = "Programmer"
)

// Session is one external-memory sort run: rows admitted through AddRow
// (directly, or via AddFile/AddFromKafka) are buffered, spilled to run
// files as the byte budget demands, and merged into an intermediate
// sorted file on Sort. EachBatch and WriteBinaryPostgresFile both read
// that file through the same capped iteration.
type Session struct {
	sourceID    []byte
	sourceKey   string
	keyColumns  []int
	latIdx      int
	lonIdx      int
	srid        int32
	budgetBytes int
	maxPerKey   int
	tempDir     string
	verbose     bool

	scope  *runfile.Scope
	buffer *runfile.Buffer

	validator *validate.Validator

	runFiles          []*os.File
	fileCount         int
	totalRows         uint64
	maxRowMemoryUsage int
	positionCounter   uint64

	firstErrors map[string]string

	sorted           bool
	intermediateFile *os.File
	summary          Summary
}

// Open starts a new session. WithSourceKey is required; every other
// option has a workable default (no geometry columns, SRID 4326, a 64
// MiB budget, max_per_key 200).
func Open(opts ...Option) (*Session, error) {
	s := &Session{
		latIdx:      -1,
		lonIdx:      -1,
		srid:        4326,
		budgetBytes: 64 << 20,
		maxPerKey:   200,
		firstErrors: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sourceKey == "" {
		return nil, errors.New("engine: WithSourceKey is required")
	}

	s.scope = runfile.NewScope(s.tempDir)
	s.buffer = runfile.NewBuffer(s.budgetBytes)

	if s.verbose {
		log.Debug.Printf("engine: session opened (source_key=%q budget=%d bytes max_per_key=%d)",
			s.sourceKey, s.budgetBytes, s.maxPerKey)
	}
	return s, nil
}

// EnableValidation turns on row validation against schema, writing
// rejections to errorLogPath (spec.md §6's enable_validation).
func (s *Session) EnableValidation(schema []validate.ColumnRule, errorLogPath string) error {
	v, err := validate.New(schema, errorLogPath)
	if err != nil {
		return errors.Wrap(err, "engine: enable validation")
	}
	s.validator = v
	return nil
}

// AddRow admits row at the caller-supplied position, returning whether it
// was accepted. A row rejected by validation is never derived into a key
// or buffered (spec.md §4.H: "rejected rows are not admitted").
func (s *Session) AddRow(row []string, position uint64) (bool, error) {
	if s.validator != nil {
		accepted, err := s.validator.ValidateRow(row, position+1)
		if err != nil {
			return false, errors.Wrap(err, "engine: validate row")
		}
		if !accepted {
			s.recordFirstError(categoryValidation, errors.Errorf("row %d rejected by validator", position+1))
			return false, nil
		}
	}

	target := key.Derive(s.sourceID, s.keyColumns, row)
	rec := runfile.Record{Key: key.SortKey{Target: target, Position: position}, Row: row}
	size := runfile.EstimatedSize(rec)

	if s.buffer.ShouldFlushBefore(size) {
		if err := s.flush(); err != nil {
			return false, err
		}
	}
	s.buffer.Add(rec, size)
	s.totalRows++
	return true, nil
}

// AddFile streams path through an RFC 4180 reader, admitting every row
// via AddRow. Parse errors are accounted (and logged when verbose) but
// never stop the read; the Position counter advances once per source line regardless
// (spec.md §4.H).
func (s *Session) AddFile(path string) error {
	return csvsource.ForEachRow(path, func(ev csvsource.Event) error {
		return s.addEvent(ev.Row, ev.ParseErr, "parse error")
	})
}

// AddFromKafka streams r through the same per-event contract as AddFile,
// treating each message's value as one CSV-encoded row (SPEC_FULL.md §6).
func (s *Session) AddFromKafka(ctx context.Context, r *kafka.Reader) error {
	return kafkasource.ForEachMessage(ctx, r, func(ev kafkasource.Event) error {
		return s.addEvent(ev.Row, ev.ParseErr, "kafka decode error")
	})
}

// addEvent is the per-event contract shared by AddFile and AddFromKafka:
// a decoded row is admitted via AddRow, a decode failure is accounted
// under categoryInputFormat (and logged when verbose), and the Position counter
// advances exactly once either way (spec.md §4.H).
func (s *Session) addEvent(row []string, parseErr error, logLabel string) error {
	pos := s.positionCounter
	s.positionCounter++

	if parseErr != nil {
		s.recordFirstError(categoryInputFormat, parseErr)
		if s.verbose {
			log.Error.Printf("engine: %s at position %d: %v", logLabel, pos, parseErr)
		}
		return nil
	}
	_, err := s.AddRow(row, pos)
	return err
}

// flush sorts and spills the current buffer to a new run file. Called
// whenever admission would overflow the budget, and once more for any
// residual batch at Sort time.
func (s *Session) flush() error {
	if s.buffer.Empty() {
		return nil
	}
	s.updateMaxRowMemoryUsage()

	n := s.buffer.Len()
	runfile.SortRecords(s.buffer.Records())

	f, err := s.scope.Create("run-*.tmp")
	if err != nil {
		s.recordFirstError(categoryIO, err)
		return errors.Wrap(err, "engine: create run file")
	}
	w := runfile.NewWriter(f)
	for _, rec := range s.buffer.Records() {
		if err := w.Write(rec); err != nil {
			s.recordFirstError(categoryIO, err)
			return errors.Wrap(err, "engine: write run file")
		}
	}
	if err := w.Flush(); err != nil {
		s.recordFirstError(categoryIO, err)
		return errors.Wrap(err, "engine: flush run file")
	}

	s.runFiles = append(s.runFiles, f)
	s.fileCount++
	s.buffer.Reset()

	if s.verbose {
		log.Debug.Printf("engine: spilled run %d (%d records)", s.fileCount, n)
	}
	return nil
}

func (s *Session) updateMaxRowMemoryUsage() {
	if fp := s.buffer.MemoryFootprint(); fp > s.maxRowMemoryUsage {
		s.maxRowMemoryUsage = fp
	}
}

// Sort produces the intermediate sorted file, either by the in-memory
// fast path (no run files were ever spilled) or by flushing the residual
// batch and k-way merging every run file (spec.md §4.D). A session with
// exactly one run file and an empty residual batch short-circuits by
// reusing that run file directly as the intermediate file, per spec.md
// §9's permitted rename optimisation.
func (s *Session) Sort() (Summary, error) {
	if s.sorted {
		return Summary{}, errors.New("engine: Sort already called on this session")
	}

	var dst *os.File
	if len(s.runFiles) == 0 {
		f, err := s.scope.Create("sorted-*.tmp")
		if err != nil {
			s.recordFirstError(categoryIO, err)
			return Summary{}, errors.Wrap(err, "engine: create intermediate file")
		}
		if !s.buffer.Empty() {
			s.updateMaxRowMemoryUsage()
			runfile.SortRecords(s.buffer.Records())
			w := runfile.NewWriter(f)
			for _, rec := range s.buffer.Records() {
				if err := w.Write(rec); err != nil {
					s.recordFirstError(categoryIO, err)
					return Summary{}, errors.Wrap(err, "engine: write intermediate file")
				}
			}
			if err := w.Flush(); err != nil {
				s.recordFirstError(categoryIO, err)
				return Summary{}, errors.Wrap(err, "engine: flush intermediate file")
			}
			s.buffer.Reset()
		}
		dst = f
	} else {
		if err := s.flush(); err != nil {
			return Summary{}, err
		}

		if len(s.runFiles) == 1 {
			dst = s.runFiles[0]
			s.runFiles = nil
		} else {
			readers := make([]io.Reader, len(s.runFiles))
			for i, f := range s.runFiles {
				if _, err := f.Seek(0, io.SeekStart); err != nil {
					s.recordFirstError(categoryIO, err)
					return Summary{}, errors.Wrap(err, "engine: seek run file")
				}
				readers[i] = f
			}

			out, err := s.scope.Create("sorted-*.tmp")
			if err != nil {
				s.recordFirstError(categoryIO, err)
				return Summary{}, errors.Wrap(err, "engine: create intermediate file")
			}
			w := runfile.NewWriter(out)
			merged, err := merge.Merge(readers, w)
			if err != nil {
				s.recordFirstError(categoryIO, err)
				return Summary{}, errors.Wrap(err, "engine: merge run files")
			}
			if err := w.Flush(); err != nil {
				s.recordFirstError(categoryIO, err)
				return Summary{}, errors.Wrap(err, "engine: flush intermediate file")
			}
			if s.verbose {
				log.Debug.Printf("engine: merged %d run files into %d records", len(s.runFiles), merged)
			}

			for _, f := range s.runFiles {
				s.scope.Forget(f)
				path := f.Name()
				f.Close()
				os.Remove(path)
			}
			s.runFiles = nil
			dst = out
		}
	}

	s.intermediateFile = dst
	s.sorted = true

	summary := Summary{
		TotalRows:         s.totalRows,
		FileCount:         s.fileCount,
		MaxRowMemoryUsage: s.maxRowMemoryUsage,
	}
	if s.validator != nil {
		summary.ValidationTotalRows = s.validator.TotalRows
		summary.FailedURLErrorCount = s.validator.FailedURLErrorCount
		summary.FailedProtocolErrorCount = s.validator.FailedProtocolErrCount
	}
	if len(s.firstErrors) > 0 {
		summary.FirstErrors = s.firstErrors
	}
	s.summary = summary

	if s.verbose {
		log.Printf("engine: sort complete: total_rows=%d file_count=%d max_row_memory_usage=%d",
			summary.TotalRows, summary.FileCount, summary.MaxRowMemoryUsage)
	}
	return summary, nil
}

// forEachCapped re-reads the intermediate sorted file from the start,
// applying the Cap Filter (spec.md §4.E) and invoking fn once per
// retained record in SortKey order.
func (s *Session) forEachCapped(fn func(rec runfile.Record) error) error {
	if !s.sorted {
		return errors.New("engine: Sort must be called before reading results")
	}
	if _, err := s.intermediateFile.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "engine: seek intermediate file")
	}

	r := runfile.NewReader(s.intermediateFile)
	var lastKey key.TargetingKey
	haveLast := false
	runLength := 0

	for {
		rec, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "engine: read intermediate file")
		}

		if haveLast && rec.Key.Target == lastKey {
			runLength++
		} else {
			runLength = 1
			lastKey = rec.Key.Target
			haveLast = true
		}
		if runLength > s.maxPerKey {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

// EachBatch iterates the capped, sorted output in batches of batchSize,
// honoring the batch-boundary rule of spec.md §4.E: a batch is only
// flushed to fn when the next record's key differs from the previous one
// and the batch already holds at least batchSize items.
func (s *Session) EachBatch(batchSize int, fn func([]BatchItem) error) error {
	if batchSize <= 0 {
		return errors.New("engine: EachBatch requires a positive batch size")
	}

	var batch []BatchItem
	var lastHex string
	haveLast := false

	err := s.forEachCapped(func(rec runfile.Record) error {
		hex := rec.Key.Target.Hex()
		if haveLast && hex != lastHex && len(batch) >= batchSize {
			if err := fn(batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
		batch = append(batch, BatchItem{TargetKeyHex: hex, Row: rec.Row})
		lastHex = hex
		haveLast = true
		return nil
	})
	if err != nil {
		return err
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

// WriteBinaryPostgresFile writes the capped, sorted output to path as a
// PostgreSQL binary-COPY stream (spec.md §4.F), optionally gzip-wrapped.
func (s *Session) WriteBinaryPostgresFile(path string, opts ...WriteOption) error {
	var cfg writeConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	f, err := os.Create(path)
	if err != nil {
		s.recordFirstError(categoryIO, err)
		return errors.Wrap(err, "engine: create output file")
	}

	var dst io.Writer = f
	var gz *gzip.Writer
	if cfg.gzip {
		gz = gzip.NewWriter(f)
		dst = gz
	}

	enc := copyformat.NewEncoder(dst)
	if err := enc.WriteHeader(); err != nil {
		f.Close()
		s.recordFirstError(categoryIO, err)
		return err
	}

	now := time.Now()
	iterErr := s.forEachCapped(func(rec runfile.Record) error {
		point := copyformat.ParsePoint(rec.Row, s.latIdx, s.lonIdx, s.srid)
		row := copyformat.Row(s.sourceKey, rec.Key.Target.Hex(), point, rec.Row, now, now)
		if err := enc.WriteRow(row); err != nil {
			s.recordFirstError(categorySchemaMismatch, err)
			return err
		}
		return nil
	})
	if iterErr != nil {
		f.Close()
		return iterErr
	}

	if err := enc.WriteFooter(); err != nil {
		f.Close()
		s.recordFirstError(categoryIO, err)
		return err
	}
	if err := enc.Flush(); err != nil {
		f.Close()
		s.recordFirstError(categoryIO, err)
		return err
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			f.Close()
			s.recordFirstError(categoryIO, err)
			return errors.Wrap(err, "engine: close gzip writer")
		}
	}
	return errors.Wrap(f.Close(), "engine: close output file")
}

// Close releases every temp file the session created (run files and the
// intermediate file) and closes the validator's error log, regardless of
// whether the session completed successfully (spec.md §5).
func (s *Session) Close() error {
	var firstErr error
	if err := s.validator.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.scope.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// recordFirstError records err as the first observed error in category,
// if one hasn't already been recorded (spec.md §7's "only the first
// observed error of each category is elevated" rule).
func (s *Session) recordFirstError(category string, err error) {
	if _, ok := s.firstErrors[category]; ok {
		return
	}
	s.firstErrors[category] = errors.Cause(err).Error()
}
