package durationx_test

import (
	"errors"
	"testing"
	"time"

	"github.com/aussiebroadwan/warden/pkg/durationx"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want durationx.Duration
	}{
		{"single hour", "1 hour", durationx.Duration{Hours: 1}},
		{"days and minutes", "7 days, 45 minutes", durationx.Duration{Days: 7, Minutes: 45}},
		{"compact", "1y11d20m", durationx.Duration{Years: 1, Days: 11, Minutes: 20}},
		{"months before minutes", "2mo3m", durationx.Duration{Months: 2, Minutes: 3}},
		{"month spelled out", "6 Months", durationx.Duration{Months: 6}},
		{"minute abbreviation", "15min", durationx.Duration{Minutes: 15}},
		{"every unit", "1y2mo3d4h5m6s", durationx.Duration{Years: 1, Months: 2, Days: 3, Hours: 4, Minutes: 5, Seconds: 6}},
		{"upper case", "30 SECONDS", durationx.Duration{Seconds: 30}},
		{"explicit zero", "0s", durationx.Duration{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := durationx.Parse(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "   ", ",", "soon", "1 fortnight", "1d1d", "hours", "3 days later 2"} {
		t.Run(in, func(t *testing.T) {
			_, err := durationx.Parse(in)
			require.Error(t, err)
			require.True(t, errors.Is(err, durationx.ErrParse))

			var pe *durationx.ParseError
			require.ErrorAs(t, err, &pe)
			require.Equal(t, in, pe.Input)
		})
	}
}

func TestStringRoundTripsThroughParse(t *testing.T) {
	for _, in := range []string{"1 hour", "7 days, 45 minutes", "1y11d20m", "2 months", "90 seconds", "0s"} {
		d := durationx.MustParse(in)

		again, err := durationx.Parse(d.String())
		require.NoError(t, err)
		require.Equal(t, d, again, "round trip of %q via %q", in, d.String())
	}
}

func TestAddToIsCalendarAware(t *testing.T) {
	start := time.Date(2024, time.January, 15, 10, 0, 0, 0, time.UTC)

	// February 2024 has 29 days, March has 31.
	require.Equal(t,
		time.Date(2024, time.February, 15, 10, 0, 0, 0, time.UTC),
		durationx.MustParse("1 month").AddTo(start),
	)
	require.Equal(t,
		time.Date(2025, time.January, 15, 10, 0, 0, 0, time.UTC),
		durationx.MustParse("1 year").AddTo(start),
	)
	require.Equal(t,
		time.Date(2024, time.January, 16, 11, 30, 15, 0, time.UTC),
		durationx.MustParse("1d1h30m15s").AddTo(start),
	)
}

func TestUnmarshalText(t *testing.T) {
	var d durationx.Duration
	require.NoError(t, d.UnmarshalText([]byte("30 days")))
	require.Equal(t, durationx.Duration{Days: 30}, d)

	require.Error(t, d.UnmarshalText([]byte("whenever")))
}

func TestMustParsePanics(t *testing.T) {
	require.Panics(t, func() { durationx.MustParse("nope") })
}
