package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaxonomyCoversEveryType(t *testing.T) {
	total := 0
	for _, typ := range AccountTypes() {
		subs := Subtypes(typ)
		require.NotEmpty(t, subs, "%s has no subtypes", typ)
		total += len(subs)
	}
	assert.Equal(t, 19, total)
	assert.Nil(t, Subtypes("UNKNOWN"))
	assert.False(t, ValidSubtype(Income, Payroll), "payroll accepted as income")
}

func TestDefaultChartParses(t *testing.T) {
	tpl, err := DefaultChart()
	require.NoError(t, err)
	require.Len(t, tpl.Accounts, 18)

	first := tpl.Accounts[0]
	assert.Equal(t, "Checking Account", first.Name)
	assert.Equal(t, Bank, first.Subtype)
}

func TestParseChartRejectsBadSubtype(t *testing.T) {
	_, err := ParseChart([]byte("accounts:\n  - {name: Odd, type: EQUITY, subtype: CASH}\n"))
	require.ErrorIs(t, err, ErrInvalidSubtype)
}
