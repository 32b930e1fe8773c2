//go:build integration

package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-entropy/pkg/adapters/datasource/postgres"
	"github.com/ekaya-inc/ekaya-entropy/pkg/attribute"
	"github.com/ekaya-inc/ekaya-entropy/pkg/testhelpers"
)

func newSanityAdapter(t *testing.T) *postgres.Adapter {
	t.Helper()
	testDB := testhelpers.GetTestDB(t)

	cfg, err := postgres.FromMap(testDB.Config())
	require.NoError(t, err)
	adapter, err := postgres.NewAdapter(context.Background(), cfg, nil, "", zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = adapter.Close() })
	return adapter
}

func newIntegrationEngine(t *testing.T, adapter *postgres.Adapter, opts ...Option) *Engine {
	t.Helper()
	ctx := context.Background()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	e := New(ctx, adapter, testhelpers.SanityTable, sanitySpec(), opts...)
	e.SetCondition(ctx, "c", attribute.OpEqual, "y")
	return e
}

func TestIntegration_ClientRunSanity(t *testing.T) {
	e := newIntegrationEngine(t, newSanityAdapter(t))

	sum := e.Run(context.Background())
	require.True(t, sum.Success, sum.Message)

	assert.InDelta(t, testhelpers.SanitySurpriseMean, sum.SurpriseMean, 0.001)
	assert.Equal(t, 6, sum.AlphabetSize)
	assert.Equal(t, int64(29), sum.RecordLength)
}

func TestIntegration_ServerRunMatchesClient(t *testing.T) {
	ctx := context.Background()
	adapter := newSanityAdapter(t)
	require.NoError(t, adapter.EnsureServerRoutine(ctx, DefaultServerRoutine))

	client := newIntegrationEngine(t, adapter).Run(ctx)
	server := newIntegrationEngine(t, adapter, WithMode(ModeServer)).Run(ctx)
	require.True(t, server.Success, server.Message)

	assert.InDelta(t, testhelpers.SanitySurpriseMean, server.SurpriseMean, 0.001)
	assert.InDelta(t, client.Entropy, server.Entropy, 1e-6)
	assert.InDelta(t, client.Uncertainty, server.Uncertainty, 1e-6)
	assert.Zero(t, client.SurpriseStdDev)
	assert.Greater(t, server.SurpriseStdDev, 0.0)
	assert.Equal(t, client.AlphabetSize, server.AlphabetSize)
	assert.Equal(t, client.RecordLength, server.RecordLength)
}

func TestIntegration_RadixMatchesDigest(t *testing.T) {
	adapter := newSanityAdapter(t)

	digest := newIntegrationEngine(t, adapter).Run(context.Background())
	radix := newIntegrationEngine(t, adapter, WithHashScheme(HashRadix256)).Run(context.Background())
	require.True(t, radix.Success, radix.Message)

	assert.InDelta(t, digest.Entropy, radix.Entropy, 1e-12)
	assert.Equal(t, digest.AlphabetSize, radix.AlphabetSize)
}

func TestIntegration_TopNAndRowsMatching(t *testing.T) {
	ctx := context.Background()
	e := newIntegrationEngine(t, newSanityAdapter(t))

	records, err := e.TopNMostSurprising(ctx, 3, true)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, 1, records[0].Count)
	assert.NotEmpty(t, records[0].Values)

	ex := e.RowsMatchingCondition(ctx, `"a" = 1`)
	require.True(t, ex.Summary.Success, ex.Summary.Message)
	require.Len(t, ex.Records, 2)
	assert.Equal(t, 9, ex.Records[0].Count)
	assert.InDelta(t, 9.0/29, ex.Records[0].Probability, 1e-12)
	assert.InDelta(t, 16.0/29, ex.Records[1].Probability, 1e-12)
}

func TestIntegration_SummaryAndSurprisals(t *testing.T) {
	e := newIntegrationEngine(t, newSanityAdapter(t))

	res := e.SummaryAndSurprisals(context.Background())
	require.True(t, res.Summary.Success, res.Summary.Message)
	require.Len(t, res.Surprisals, 29)
	assert.InDelta(t, res.Summary.Entropy, res.Profile.Mean, 1e-9)
}

func TestIntegration_QueryFailure(t *testing.T) {
	ctx := context.Background()
	e := New(ctx, newSanityAdapter(t), testhelpers.SanityTable, sanitySpec(),
		WithRowIDColumn("no_such_column"), WithLogger(zaptest.NewLogger(t)))
	e.SetCondition(ctx, "c", attribute.OpEqual, "y")

	sum := e.Run(ctx)
	assert.False(t, sum.Success)
	assert.Equal(t, MsgQueryFailed, sum.Message)
	assert.True(t, strings.Contains(sum.SQLUsed, `"no_such_column"`))
}
