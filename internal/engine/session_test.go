package engine

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/movableink/csvutils-go/internal/validate"
)

func TestSort_EmptyInput(t *testing.T) {
	s, err := Open(WithSourceKey("src"))
	require.NoError(t, err)
	defer s.Close()

	summary, err := s.Sort()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), summary.TotalRows)
	assert.Equal(t, 0, summary.FileCount)

	out := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, s.WriteBinaryPostgresFile(out))

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Len(t, b, 21)
}

func TestSort_InMemoryFastPath(t *testing.T) {
	s, err := Open(WithSourceKey("src"), WithKeyColumns([]int{0}), WithMemoryBudgetMiB(64))
	require.NoError(t, err)
	defer s.Close()

	// key column 0 drives grouping; column 1 distinguishes the two 'a'
	// rows so their admission order is externally observable.
	rows := [][]string{{"b", "0"}, {"a", "1"}, {"a", "2"}, {"c", "3"}}
	for i, row := range rows {
		accepted, err := s.AddRow(row, uint64(i))
		require.NoError(t, err)
		assert.True(t, accepted)
	}

	summary, err := s.Sort()
	require.NoError(t, err)
	assert.Equal(t, 0, summary.FileCount)

	var items []BatchItem
	require.NoError(t, s.EachBatch(10, func(batch []BatchItem) error {
		items = append(items, batch...)
		return nil
	}))

	// Key order is the SHA-1 digest order of ",c" < ",b" < ",a", not the
	// alphabetical order of the raw column values.
	require.Len(t, items, 4)
	assert.Equal(t, []string{"c", "3"}, items[0].Row)
	assert.Equal(t, []string{"b", "0"}, items[1].Row)
	assert.Equal(t, []string{"a", "2"}, items[2].Row)
	assert.Equal(t, []string{"a", "1"}, items[3].Row)
	// within 'a', position 2 (later admitted) precedes position 1
	assert.Equal(t, items[2].TargetKeyHex, items[3].TargetKeyHex)
}

func TestSort_SpillPath_ThreeRuns(t *testing.T) {
	s, err := Open(WithSourceKey("src"), WithKeyColumns([]int{0}))
	require.NoError(t, err)
	defer s.Close()
	s.budgetBytes = 60 // forces a spill every two one-byte-column rows
	s.buffer.BudgetBytes = s.budgetBytes

	keys := []string{"d", "b", "e", "a", "f", "c"}
	for i, k := range keys {
		accepted, err := s.AddRow([]string{k}, uint64(i))
		require.NoError(t, err)
		assert.True(t, accepted)
	}

	summary, err := s.Sort()
	require.NoError(t, err)
	assert.Equal(t, 3, summary.FileCount)
	assert.Equal(t, uint64(6), summary.TotalRows)

	var gotKeys []string
	require.NoError(t, s.EachBatch(100, func(batch []BatchItem) error {
		for _, item := range batch {
			gotKeys = append(gotKeys, item.Row[0])
		}
		return nil
	}))
	// globally sorted by the SHA-1 digest of each key column, not by letter
	assert.Equal(t, []string{"e", "d", "c", "b", "a", "f"}, gotKeys)
}

func TestSort_CapFilter(t *testing.T) {
	s, err := Open(WithSourceKey("src"), WithKeyColumns([]int{0}), WithMemoryBudgetMiB(64), WithMaxPerKey(200))
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 205; i++ {
		accepted, err := s.AddRow([]string{"k", strconv.Itoa(i)}, uint64(i))
		require.NoError(t, err)
		assert.True(t, accepted)
	}

	_, err = s.Sort()
	require.NoError(t, err)

	var positions []int
	require.NoError(t, s.EachBatch(500, func(batch []BatchItem) error {
		for _, item := range batch {
			pos, err := strconv.Atoi(item.Row[1])
			require.NoError(t, err)
			positions = append(positions, pos)
		}
		return nil
	}))

	require.Len(t, positions, 200)
	for i, pos := range positions {
		assert.Equal(t, 204-i, pos)
	}
}

func TestWriteBinaryPostgresFile_Geometry(t *testing.T) {
	s, err := Open(WithSourceKey("src"), WithKeyColumns([]int{0}), WithGeometryColumns(1, 2))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.AddRow([]string{"k1", "40.0", "-74.0"}, 0)
	require.NoError(t, err)
	_, err = s.AddRow([]string{"k2", "nope", "-74.0"}, 1)
	require.NoError(t, err)

	_, err = s.Sort()
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, s.WriteBinaryPostgresFile(out))

	b, err := os.ReadFile(out)
	require.NoError(t, err)

	// Rows sort by the SHA-1-derived key, not by source order, so walk
	// both rows generically rather than assuming which comes first.
	off := 19
	var geomLengths []int32
	for i := 0; i < 2; i++ {
		colCount := binary.BigEndian.Uint16(b[off : off+2])
		require.Equal(t, uint16(6), colCount)
		off += 2
		for col := 0; col < 6; col++ {
			l := int32(binary.BigEndian.Uint32(b[off : off+4]))
			off += 4
			if col == 2 {
				geomLengths = append(geomLengths, l)
			}
			if l > 0 {
				off += int(l)
			}
		}
	}

	require.Len(t, geomLengths, 2)
	assert.Contains(t, geomLengths, int32(-1))
	var validLen int32
	for _, l := range geomLengths {
		if l != -1 {
			validLen = l
		}
	}
	assert.Equal(t, int32(25), validLen) // 1 byte-order + 4 type + 4 SRID + 8 + 8
}

func TestAddEvent_KafkaDecodeContract(t *testing.T) {
	s, err := Open(WithSourceKey("src"), WithKeyColumns([]int{0}))
	require.NoError(t, err)
	defer s.Close()

	// AddFromKafka and AddFile both funnel through addEvent; exercised
	// directly here since kafkasource.ForEachMessage requires a live
	// *kafka.Reader and can't be driven from a test without a broker.
	require.NoError(t, s.addEvent(nil, assert.AnError, "kafka decode error"))
	require.NoError(t, s.addEvent([]string{"a"}, nil, "kafka decode error"))
	require.NoError(t, s.addEvent(nil, assert.AnError, "kafka decode error"))
	require.NoError(t, s.addEvent([]string{"b"}, nil, "kafka decode error"))

	assert.Equal(t, uint64(4), s.positionCounter)
	assert.Equal(t, uint64(2), s.totalRows)
	assert.Equal(t, assert.AnError.Error(), s.firstErrors[categoryInputFormat])

	summary, err := s.Sort()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), summary.TotalRows)

	var gotKeys []string
	require.NoError(t, s.EachBatch(10, func(batch []BatchItem) error {
		for _, item := range batch {
			gotKeys = append(gotKeys, item.Row[0])
		}
		return nil
	}))
	// SHA-1 of ",b" sorts before SHA-1 of ",a"
	assert.Equal(t, []string{"b", "a"}, gotKeys)
}

func TestSort_Validation(t *testing.T) {
	errLog := filepath.Join(t.TempDir(), "errors.csv")
	s, err := Open(WithSourceKey("src"), WithKeyColumns([]int{0}))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.EnableValidation([]validate.ColumnRule{
		{Name: "u", Type: validate.URL},
		{Name: "p", Type: validate.Protocol},
	}, errLog))

	accepted, err := s.AddRow([]string{"not a url", "no-proto"}, 0)
	require.NoError(t, err)
	assert.False(t, accepted)

	summary, err := s.Sort()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), summary.FailedURLErrorCount)
	assert.Equal(t, uint64(1), summary.FailedProtocolErrorCount)
	assert.Equal(t, uint64(0), summary.TotalRows)

	contents, err := os.ReadFile(errLog)
	require.NoError(t, err)
	body := string(contents[3:])
	assert.Contains(t, body, "not a url does not include a valid domain,1,1\n")
	assert.Contains(t, body, "no-proto does not include a valid link protocol,1,2\n")
}
