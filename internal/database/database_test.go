package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSqliteDSN(t *testing.T) {
	assert.Equal(t, ":memory:?_time_format=sqlite", sqliteDSN(":memory:"))
	assert.Equal(t, "file:rig.db?cache=shared&_time_format=sqlite", sqliteDSN("file:rig.db?cache=shared"))
	assert.Equal(t, "rig.db?_time_format=sqlite", sqliteDSN("rig.db?_time_format=sqlite"))
}
