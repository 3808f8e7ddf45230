package kafkasource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRow_Success(t *testing.T) {
	row, err := decodeRow([]byte(`a,b,c`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, row)
}

func TestDecodeRow_RaggedRowsAllowed(t *testing.T) {
	// FieldsPerRecord is set to -1: unlike a fixed-width CSV file, one
	// Kafka message's row is decoded independently of any other, so a
	// short or long row is not an error by itself.
	row, err := decodeRow([]byte(`a,b`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, row)
}

func TestDecodeRow_MalformedQuoting(t *testing.T) {
	_, err := decodeRow([]byte(`a,"b`))
	assert.Error(t, err)
}
