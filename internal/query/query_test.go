package query

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestNormalizeCanonicalizesFields(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	q, err := Normalize(RawQuery{
		Text:           "  apple pie  ",
		Country:        "US",
		K:              intPtr(25),
		MustDomains:    []string{"News.Example", "blog.example", "news.example", " "},
		MustNotDomains: []string{"SPAM.example"},
		From:           &from,
		To:             &to,
	}, Defaults{K: 10})
	require.NoError(t, err)

	assert.Equal(t, "apple pie", q.Text)
	assert.Equal(t, "us", q.Country)
	assert.Equal(t, 25, q.K)
	assert.Equal(t, []string{"blog.example", "news.example"}, q.MustDomains)
	assert.Equal(t, []string{"spam.example"}, q.MustNotDomains)
	assert.Equal(t, &from, q.From)
	assert.Equal(t, &to, q.To)
}

func TestNormalizeRejections(t *testing.T) {
	tests := []struct {
		name string
		raw  RawQuery
	}{
		{"EmptyText", RawQuery{Text: "   ", Country: "us"}},
		{"MissingCountry", RawQuery{Text: "apple"}},
		{"LongCountry", RawQuery{Text: "apple", Country: "usa"}},
		{"NumericCountry", RawQuery{Text: "apple", Country: "u1"}},
		{"ZeroK", RawQuery{Text: "apple", Country: "us", K: intPtr(0)}},
		{"NegativeK", RawQuery{Text: "apple", Country: "us", K: intPtr(-3)}},
		{"OverlappingDomainSets", RawQuery{
			Text:           "apple",
			Country:        "us",
			MustDomains:    []string{"a.example"},
			MustNotDomains: []string{"A.EXAMPLE"},
		}},
		{"InvertedWindow", RawQuery{
			Text:    "apple",
			Country: "us",
			From:    timePtr(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)),
			To:      timePtr(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.raw, Defaults{K: 10})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidQuery))
		})
	}
}

func timePtr(ts time.Time) *time.Time { return &ts }

func TestNormalizeKDefaultsAndClamping(t *testing.T) {
	t.Run("AbsentKTakesDefault", func(t *testing.T) {
		q, err := Normalize(RawQuery{Text: "apple", Country: "us"}, Defaults{K: 15})
		require.NoError(t, err)
		assert.Equal(t, 15, q.K)
	})

	t.Run("AbsentKWithBadDefaultFallsBackToTen", func(t *testing.T) {
		q, err := Normalize(RawQuery{Text: "apple", Country: "us"}, Defaults{})
		require.NoError(t, err)
		assert.Equal(t, 10, q.K)
	})

	t.Run("LargeKClampsToMax", func(t *testing.T) {
		q, err := Normalize(RawQuery{Text: "apple", Country: "us", K: intPtr(9999)}, Defaults{K: 10})
		require.NoError(t, err)
		assert.Equal(t, MaxK, q.K)
	})
}

func TestNormalizeIsIdempotent(t *testing.T) {
	first, err := Normalize(RawQuery{
		Text:           "  Fresh NEWS ",
		Country:        "Ca",
		K:              intPtr(7),
		MustNotDomains: []string{"Spam.Example", "junk.example"},
	}, Defaults{K: 10})
	require.NoError(t, err)

	second, err := Normalize(RawQuery{
		Text:           first.Text,
		Country:        first.Country,
		K:              intPtr(first.K),
		MustDomains:    first.MustDomains,
		MustNotDomains: first.MustNotDomains,
		From:           first.From,
		To:             first.To,
	}, Defaults{K: 10})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, first.Fingerprint(), second.Fingerprint())
}

func TestFingerprintStability(t *testing.T) {
	t.Run("EquivalentQueriesShareFingerprint", func(t *testing.T) {
		a, err := Normalize(RawQuery{
			Text:        "apple",
			Country:     "US",
			MustDomains: []string{"b.example", "a.example"},
		}, Defaults{K: 10})
		require.NoError(t, err)

		b, err := Normalize(RawQuery{
			Text:        "  apple ",
			Country:     "us",
			K:           intPtr(10),
			MustDomains: []string{"A.EXAMPLE", "b.example", "a.example"},
		}, Defaults{K: 10})
		require.NoError(t, err)

		assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	})

	t.Run("DistinctQueriesDiffer", func(t *testing.T) {
		base := RawQuery{Text: "apple", Country: "us"}
		a, err := Normalize(base, Defaults{K: 10})
		require.NoError(t, err)

		variants := []RawQuery{
			{Text: "apples", Country: "us"},
			{Text: "apple", Country: "ca"},
			{Text: "apple", Country: "us", K: intPtr(11)},
			{Text: "apple", Country: "us", MustDomains: []string{"a.example"}},
			{Text: "apple", Country: "us", MustNotDomains: []string{"a.example"}},
			{Text: "apple", Country: "us", From: timePtr(time.Unix(0, 0))},
		}
		for _, raw := range variants {
			v, err := Normalize(raw, Defaults{K: 10})
			require.NoError(t, err)
			assert.NotEqual(t, a.Fingerprint(), v.Fingerprint())
		}
	})

	t.Run("FormatIsVersionedHex", func(t *testing.T) {
		q, err := Normalize(RawQuery{Text: "apple", Country: "us"}, Defaults{K: 10})
		require.NoError(t, err)
		fp := q.Fingerprint()
		assert.Regexp(t, `^search:v1:[0-9a-f]{32}$`, fp)
	})
}

func TestDomainLookupHelpers(t *testing.T) {
	q, err := Normalize(RawQuery{
		Text:           "news",
		Country:        "us",
		MustDomains:    []string{"good.example"},
		MustNotDomains: []string{"spam.example"},
	}, Defaults{K: 10})
	require.NoError(t, err)

	assert.True(t, q.MustNotContains("SPAM.example"))
	assert.False(t, q.MustNotContains("good.example"))
	assert.True(t, q.MustContains("Good.Example"))
	assert.False(t, q.MustContains("other.example"))

	t.Run("EmptyAllowListAllowsAll", func(t *testing.T) {
		open, err := Normalize(RawQuery{Text: "news", Country: "us"}, Defaults{K: 10})
		require.NoError(t, err)
		assert.True(t, open.MustContains("anything.example"))
	})
}
