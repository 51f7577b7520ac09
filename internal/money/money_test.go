package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercent(t *testing.T) {
	cases := []struct {
		name        string
		amount, pct int64
		want        int64
	}{
		{"whole", 100_000, 15, 15_000},
		{"floors", 1_001, 3, 30},
		{"zero percent", 50_000, 0, 0},
		{"zero amount", 0, 15, 0},
		{"sub-unit floors to zero", 33, 2, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Percent(tc.amount, tc.pct))
		})
	}
}

func TestProportion(t *testing.T) {
	cases := []struct {
		name               string
		total, part, whole int64
		want               int64
	}{
		{"half", 10_000, 50_000, 100_000, 5_000},
		{"floors", 100, 1, 3, 33},
		{"full", 7, 9, 9, 7},
		{"zero whole", 100, 50, 0, 0},
		{"negative whole", 100, 50, -1, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Proportion(tc.total, tc.part, tc.whole))
		})
	}
}

func TestParse(t *testing.T) {
	c, err := Parse("fiat")
	require.NoError(t, err)
	assert.Equal(t, Fiat, c)

	c, err = Parse("stable")
	require.NoError(t, err)
	assert.Equal(t, Stable, c)

	_, err = Parse("USD")
	assert.Error(t, err)
	_, err = Parse("")
	assert.Error(t, err)
}

func TestMin(t *testing.T) {
	assert.Equal(t, int64(3), Min(3, 7))
	assert.Equal(t, int64(3), Min(7, 3))
	assert.Equal(t, int64(-1), Min(-1, 0))
}
