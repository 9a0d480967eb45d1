package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finstream.org/internal/ledger"
	"finstream.org/internal/store/memory"
)

var start = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func TestSameSeedReplays(t *testing.T) {
	a, b := NewGenerator(7), NewGenerator(7)
	for i := 0; i < 20; i++ {
		assert.Equal(t, a.Next(start), b.Next(start))
	}
}

func TestNextStaysInFlowRange(t *testing.T) {
	g := NewGenerator(11)
	for i := 0; i < 200; i++ {
		e := g.Next(start)
		assert.True(t, e.Amount.IsPositive())
		assert.NotEqual(t, e.Debit, e.Credit)
		assert.NotEmpty(t, e.Narrative)
	}
}

func TestRunRequiresChart(t *testing.T) {
	led := ledger.NewService(memory.New().Ledger())
	_, _, err := Run(context.Background(), led, NewGenerator(1), 5, start)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seed the chart first")
}

func TestRunKeepsLedgerBalanced(t *testing.T) {
	ctx := context.Background()
	led := ledger.NewService(memory.New().Ledger())
	tpl, err := ledger.DefaultChart()
	require.NoError(t, err)
	_, err = led.SeedChart(ctx, tpl)
	require.NoError(t, err)

	stats, records, err := Run(ctx, led, NewGenerator(42), 30, start)
	require.NoError(t, err)
	assert.Equal(t, 30, stats.Transactions)
	assert.Len(t, records, stats.BankLines)
	for _, r := range records {
		assert.False(t, r.Amount.IsZero())
		assert.Contains(t, r.ProviderID, "sim-42-")
	}

	page, _, err := led.ListTransactions(ctx, 100, 0)
	require.NoError(t, err)
	assert.Len(t, page, 30)

	drift, err := led.VerifyBalances(ctx)
	require.NoError(t, err)
	assert.Empty(t, drift)
}
