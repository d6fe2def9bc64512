package extraction

import (
	"context"
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"not found", notFoundf("unknown format %s", "XYZ"), "EXT001"},
		{"ambiguous", ambiguousf("RDB matches 2 types"), "EXT002"},
		{"integrity", integrityf("no column %s", "foo"), "EXT003"},
		{"no data before not found", noDataf("empty"), "EXT004"},
		{"no data wrapped", fmt.Errorf("dump: %w", noDataf("empty")), "EXT004"},
		{"technical", technical(errors.New("disk full"), "create table"), "EXT005"},
		{"sqlite pattern", errors.New("sqlite: SQL logic error"), "EXT005"},
		{"deadline", fmt.Errorf("execute: %w", context.DeadlineExceeded), "EXT006"},
		{"busy", ErrTooManyExecutions, "EXT007"},
		{"unknown", errors.New("something odd"), "ERR000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, MapError(tt.err).Code)
		})
	}
}

func TestMapError_Nil(t *testing.T) {
	assert.Equal(t, UserMessage{}, MapError(nil))
	assert.Empty(t, FormatUserError(nil))
	assert.False(t, IsUserFacing(nil))
}

func TestNoDataIsNotFound(t *testing.T) {
	err := noDataf("nothing for %s", "RDB")
	assert.True(t, errors.Is(err, ErrNoData))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(notFoundf("x"), ErrNoData))
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(integrityf("bad"))
	assert.Equal(t, "The filter or strata are not valid for this extraction (Code: EXT003). Check sheet and column names", got)
	assert.True(t, IsUserFacing(integrityf("bad")))
	assert.False(t, IsUserFacing(errors.New("bad")))
}

func TestTechnical_Nil(t *testing.T) {
	assert.NoError(t, technical(nil, "noop"))
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" agg ")
	assert.NoError(t, err)
	assert.Equal(t, KindAggregation, k)

	_, err = ParseKind("bogus")
	assert.True(t, errors.Is(err, ErrDataIntegrity))
	assert.Equal(t, "EXT003", MapError(err).Code)
}
