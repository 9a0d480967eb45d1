package ledger

import (
	_ "embed"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

var taxonomy = map[AccountType][]Subtype{
	Asset:     {Cash, Bank, AccountsReceivable, Inventory, FixedAsset, OtherAsset},
	Liability: {AccountsPayable, CreditCard, Loan, TaxPayable, OtherLiability},
	Equity:    {RetainedEarnings, OwnerEquity},
	Income:    {Sales, OtherIncome},
	Expense:   {OperatingExpense, Payroll, TaxExpense, OtherExpense},
}

// AccountTypes lists the account types in chart order.
func AccountTypes() []AccountType {
	return []AccountType{Asset, Liability, Equity, Income, Expense}
}

// Subtypes returns the subtypes permitted for t, or nil for an unknown type.
func Subtypes(t AccountType) []Subtype {
	return slices.Clone(taxonomy[t])
}

// ValidSubtype reports whether s may be used with t.
func ValidSubtype(t AccountType, s Subtype) bool {
	return slices.Contains(taxonomy[t], s)
}

func validateClassification(t AccountType, s Subtype) error {
	if _, ok := taxonomy[t]; !ok {
		return fmt.Errorf("%w %q", ErrInvalidType, t)
	}
	if !ValidSubtype(t, s) {
		return fmt.Errorf("%w: %s/%s", ErrInvalidSubtype, t, s)
	}
	return nil
}

// ChartTemplate is a list of account specs used to seed a new book.
type ChartTemplate struct {
	Accounts []AccountSpec `yaml:"accounts"`
}

//go:embed default_chart.yaml
var defaultChartYAML []byte

// DefaultChart returns the onboarding chart of accounts.
func DefaultChart() (ChartTemplate, error) {
	return ParseChart(defaultChartYAML)
}

// ParseChart decodes a YAML chart template and validates every entry.
func ParseChart(data []byte) (ChartTemplate, error) {
	var tpl ChartTemplate
	if err := yaml.Unmarshal(data, &tpl); err != nil {
		return ChartTemplate{}, fmt.Errorf("parse chart template: %w", err)
	}
	for i, spec := range tpl.Accounts {
		if err := spec.validate(); err != nil {
			return ChartTemplate{}, fmt.Errorf("chart template account %d (%s): %w", i, spec.Name, err)
		}
	}
	return tpl, nil
}
