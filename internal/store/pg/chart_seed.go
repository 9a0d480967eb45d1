package pg

import (
	"bytes"
	"fmt"
	"strings"

	"finstream.org/internal/ledger"
)

// ChartSeedSQL renders tpl as a seed script for the accounts table.
// Account ids are fixed by position so reruns hit the primary key, and an
// account whose name is already in use is skipped.
func ChartSeedSQL(tpl ledger.ChartTemplate) []byte {
	var b bytes.Buffer
	b.WriteString("-- Code generated from internal/ledger/default_chart.yaml by ops/migrations/gen. DO NOT EDIT.\n\n")
	b.WriteString("insert into accounts (id, name, number, description, type, subtype)\n")
	b.WriteString("select v.id, v.name, v.number, v.description, v.type, v.subtype\n")
	b.WriteString("from (values\n")
	for i, a := range tpl.Accounts {
		sep := ","
		if i == len(tpl.Accounts)-1 {
			sep = ""
		}
		fmt.Fprintf(&b, "    (%s, %s, %s, %s, %s, %s)%s\n",
			quote(fmt.Sprintf("01HV00CHART%015d", i+1)),
			quote(a.Name), quote(a.Number), quote(a.Description),
			quote(string(a.Type)), quote(string(a.Subtype)), sep)
	}
	b.WriteString(") as v (id, name, number, description, type, subtype)\n")
	b.WriteString("where not exists (select 1 from accounts a where lower(a.name) = lower(v.name))\n")
	b.WriteString("on conflict (id) do nothing;\n")
	return b.Bytes()
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(strings.TrimSpace(s), "'", "''") + "'"
}
