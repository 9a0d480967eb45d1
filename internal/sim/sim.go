// Package sim generates plausible small-business activity against a seeded
// chart of accounts. It backs the demo command and load testing.
package sim

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"finstream.org/internal/bank"
	"finstream.org/internal/ledger"
	"finstream.org/internal/money"
)

// CheckingNumber is the chart number whose movements appear on the bank feed.
const CheckingNumber = "1000"

// Flow is one kind of business event: Amount moves into Debit out of Credit.
// Both sides are chart account numbers.
type Flow struct {
	Debit      string
	Credit     string
	Min, Max   money.Amount
	Narratives []string
}

type Scenario struct {
	Name  string
	Flows []Flow
}

func SmallBusinessScenario() Scenario {
	return Scenario{
		Name: "SmallBusiness",
		Flows: []Flow{
			{Debit: "1000", Credit: "4000", Min: 2_500, Max: 250_000, Narratives: []string{"Card sales batch", "Consulting fee", "Online order payout"}},
			{Debit: "1200", Credit: "4000", Min: 50_000, Max: 900_000, Narratives: []string{"Project milestone billed", "Retainer billed"}},
			{Debit: "1000", Credit: "1200", Min: 50_000, Max: 900_000, Narratives: []string{"Customer payment received"}},
			{Debit: "5000", Credit: "1000", Min: 150_000, Max: 300_000, Narratives: []string{"Office rent"}},
			{Debit: "5100", Credit: "1000", Min: 8_000, Max: 40_000, Narratives: []string{"Electricity bill", "Internet service"}},
			{Debit: "5200", Credit: "2100", Min: 1_500, Max: 30_000, Narratives: []string{"Printer paper", "Stationery order"}},
			{Debit: "2100", Credit: "1000", Min: 10_000, Max: 80_000, Narratives: []string{"Credit card payment"}},
			{Debit: "5300", Credit: "1000", Min: 300_000, Max: 800_000, Narratives: []string{"Payroll run"}},
			{Debit: "1000", Credit: "4100", Min: 100, Max: 5_000, Narratives: []string{"Savings interest"}},
		},
	}
}

// Event is a generated posting expressed in chart numbers.
type Event struct {
	Date      time.Time
	Debit     string
	Credit    string
	Amount    money.Amount
	Narrative string
}

// Generator draws events from a scenario. A fixed seed replays the same run.
type Generator struct {
	scenario Scenario
	seed     int64
	rnd      *rand.Rand
}

func NewGenerator(seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{scenario: SmallBusinessScenario(), seed: seed, rnd: rand.New(rand.NewSource(seed))}
}

func (g *Generator) Seed() int64 { return g.seed }

func (g *Generator) Next(date time.Time) Event {
	flows := g.scenario.Flows
	if len(flows) == 0 {
		panic("scenario requires at least one flow")
	}
	f := flows[g.rnd.Intn(len(flows))]
	amount := f.Min
	if f.Max > f.Min {
		amount += money.Amount(g.rnd.Int63n(int64(f.Max-f.Min) + 1))
	}
	return Event{
		Date:      date,
		Debit:     f.Debit,
		Credit:    f.Credit,
		Amount:    amount,
		Narrative: f.Narratives[g.rnd.Intn(len(f.Narratives))],
	}
}

// Counter summarizes a run.
type Counter struct {
	Transactions int          `json:"transactions"`
	Volume       money.Amount `json:"volume"`
	BankLines    int          `json:"bank_lines"`
}

func (c *Counter) Add(e Event) {
	c.Transactions++
	c.Volume += e.Amount
	if e.Debit == CheckingNumber || e.Credit == CheckingNumber {
		c.BankLines++
	}
}

// Run posts n generated events through led, one per day starting at start,
// and returns the bank feed records for events that touch the checking
// account. The chart must already contain every account a flow names.
func Run(ctx context.Context, led *ledger.Service, g *Generator, n int, start time.Time) (Counter, []bank.Record, error) {
	accounts, err := led.ListAccounts(ctx, ledger.AccountFilter{})
	if err != nil {
		return Counter{}, nil, err
	}
	byNumber := make(map[string]string, len(accounts))
	for _, a := range accounts {
		if a.Number != "" {
			byNumber[a.Number] = a.ID
		}
	}
	for _, f := range g.scenario.Flows {
		for _, num := range []string{f.Debit, f.Credit} {
			if _, ok := byNumber[num]; !ok {
				return Counter{}, nil, fmt.Errorf("account %s missing; seed the chart first", num)
			}
		}
	}

	var (
		stats   Counter
		records []bank.Record
	)
	for i := 0; i < n; i++ {
		e := g.Next(start.AddDate(0, 0, i))
		ref := fmt.Sprintf("sim-%d-%d", g.seed, i)
		_, err := led.PostTransaction(ctx, ledger.PostRequest{
			Date:        e.Date,
			Description: e.Narrative,
			Reference:   ref,
			Entries: []ledger.EntryInput{
				{AccountID: byNumber[e.Debit], Amount: e.Amount},
				{AccountID: byNumber[e.Credit], Amount: -e.Amount},
			},
		})
		if err != nil {
			return stats, records, fmt.Errorf("post %s: %w", ref, err)
		}
		stats.Add(e)
		if e.Debit == CheckingNumber {
			records = append(records, bank.Record{ProviderID: ref, Date: e.Date, Description: e.Narrative, Amount: e.Amount})
		} else if e.Credit == CheckingNumber {
			records = append(records, bank.Record{ProviderID: ref, Date: e.Date, Description: e.Narrative, Amount: -e.Amount})
		}
	}
	return stats, records, nil
}
