// Command gen renders the default chart of accounts into the seed script
// applied by `finctl migrate seed`, so the YAML template stays the only
// copy of the chart.
package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"finstream.org/internal/ledger"
	"finstream.org/internal/store/pg"
)

const out = "seeds/0001_default_chart.sql"

func main() {
	tpl, err := ledger.DefaultChart()
	if err != nil {
		log.Fatal().Err(err).Msg("load default chart")
	}
	if err := os.WriteFile(out, pg.ChartSeedSQL(tpl), 0o644); err != nil {
		log.Fatal().Err(err).Str("path", out).Msg("write seed")
	}
}
