package engine

// Option configures a Session at Open time, standing in for spec.md §6's
// open() parameter list (source_id, source_key, key-column indices,
// optional lat/lon indices, memory budget) as a functional-options set
// rather than a long positional constructor.
type Option func(*Session)

// WithSourceID sets the source identifier bytes mixed into every derived
// TargetingKey (spec.md §4.A).
func WithSourceID(id []byte) Option {
	return func(s *Session) { s.sourceID = append([]byte(nil), id...) }
}

// WithSourceKey sets the session-constant string written into every
// emitted row's source_key column (spec.md §4.F).
func WithSourceKey(key string) Option {
	return func(s *Session) { s.sourceKey = key }
}

// WithKeyColumns sets the row-column indices that feed Key Derivation, in
// configured order (spec.md §4.A).
func WithKeyColumns(cols []int) Option {
	return func(s *Session) { s.keyColumns = append([]int(nil), cols...) }
}

// WithGeometryColumns configures the row columns holding latitude and
// longitude for the geometry column (spec.md §4.F/§4.G). Pass -1 for
// either to leave the geometry column always NULL.
func WithGeometryColumns(latIdx, lonIdx int) Option {
	return func(s *Session) { s.latIdx, s.lonIdx = latIdx, lonIdx }
}

// WithSRID overrides the SRID tagged onto emitted geometry points
// (default 4326).
func WithSRID(srid int32) Option {
	return func(s *Session) { s.srid = srid }
}

// WithMemoryBudgetMiB sets the Run Buffer's byte budget (spec.md §4.B),
// in mebibytes.
func WithMemoryBudgetMiB(mb int) Option {
	return func(s *Session) { s.budgetBytes = mb << 20 }
}

// WithMaxPerKey overrides the Cap Filter's max_per_key (default 200,
// spec.md §4.E).
func WithMaxPerKey(n int) Option {
	return func(s *Session) { s.maxPerKey = n }
}

// WithTempDir directs run files and the intermediate sorted file to dir
// instead of the OS default temp directory.
func WithTempDir(dir string) Option {
	return func(s *Session) { s.tempDir = dir }
}

// WithVerbose gates the session's debug-level log output, the session
// option spec.md §9 reserves for the process logger ("explicitly not
// part of the core contract... configure via session options").
func WithVerbose(v bool) Option {
	return func(s *Session) { s.verbose = v }
}

// WriteOption configures WriteBinaryPostgresFile.
type WriteOption func(*writeConfig)

type writeConfig struct {
	gzip bool
}

// WithGzipOutput wraps the binary-COPY stream in gzip compression (see
// SPEC_FULL.md §4.F); the PGCOPY framing itself is unaffected.
func WithGzipOutput() WriteOption {
	return func(c *writeConfig) { c.gzip = true }
}
