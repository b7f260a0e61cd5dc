package scripts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservationDDL(t *testing.T) {
	for _, dialect := range []string{"postgres", "duckdb"} {
		ddl, err := ObservationDDL(dialect)
		require.NoError(t, err, dialect)
		assert.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS observation")
	}
	_, err := ObservationDDL("sqlite")
	assert.Error(t, err)
}
