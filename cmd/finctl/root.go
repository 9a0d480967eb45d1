package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"finstream.org/internal/bank"
	"finstream.org/internal/config"
	"finstream.org/internal/invoice"
	"finstream.org/internal/ledger"
	"finstream.org/internal/migrate"
	"finstream.org/internal/obs"
	"finstream.org/internal/sim"
	"finstream.org/internal/store"
	"finstream.org/ops/migrations"
)

var version = "0.1.0"

// app carries what the subcommands share. openDB and openStore are
// replaced in tests.
type app struct {
	out       io.Writer
	cfg       config.Config
	log       zerolog.Logger
	timeout   time.Duration
	now       func() time.Time
	openDB    func(dsn string) (*sql.DB, error)
	openStore func(cfg config.Config) (store.Backend, error)
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{
		out:       out,
		now:       time.Now,
		openDB:    func(dsn string) (*sql.DB, error) { return sql.Open("pgx", dsn) },
		openStore: store.Open,
	}
	return a.rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:           "finctl",
		Short:         "Finstream admin CLI",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log, err = obs.NewLogger(obs.LogConfig{Level: cfg.LogLevel, Format: "console", Output: cmd.ErrOrStderr()})
			return err
		},
	}
	root.SetOut(a.out)
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading FINSTREAM_* variables")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 30*time.Second, "overall command timeout")

	root.AddCommand(a.migrateCmd(), a.chartCmd(), a.invoicesCmd(), a.ledgerCmd(), a.demoCmd())
	return root
}

func (a *app) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), a.timeout)
}

func (a *app) migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, roll back or inspect PostgreSQL schema migrations",
	}
	run := func(fn func(ctx context.Context, m *migrate.Manager) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			if a.cfg.PGDSN == "" {
				return errors.New("FINSTREAM_PG_DSN is required")
			}
			db, err := a.openDB(a.cfg.PGDSN)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()
			ctx, cancel := a.context(cmd)
			defer cancel()
			m := migrate.NewManager(db, migrations.FS, migrations.SQLDir, migrations.SeedsDir, migrate.WithLogger(a.log))
			return fn(ctx, m)
		}
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: run(func(ctx context.Context, m *migrate.Manager) error {
				applied, err := m.Up(ctx)
				a.printList("applied", applied)
				return err
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			RunE: run(func(ctx context.Context, m *migrate.Manager) error {
				name, err := m.Down(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "rolled back %s\n", name)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied and pending migrations",
			RunE: run(func(ctx context.Context, m *migrate.Manager) error {
				applied, pending, err := m.Status(ctx)
				if err != nil {
					return err
				}
				a.printList("applied", applied)
				a.printList("pending", pending)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Run seed files that have not run yet",
			RunE: run(func(ctx context.Context, m *migrate.Manager) error {
				applied, err := m.Seed(ctx)
				a.printList("seeded", applied)
				return err
			}),
		},
	)
	return cmd
}

// withStore opens the configured backend for the duration of fn.
func (a *app) withStore(cmd *cobra.Command, fn func(ctx context.Context, b store.Backend) error) error {
	b, err := a.openStore(a.cfg)
	if err != nil {
		return err
	}
	defer b.Close()
	ctx, cancel := a.context(cmd)
	defer cancel()
	return fn(ctx, b)
}

func (a *app) chartCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "chart", Short: "Chart of accounts maintenance"}
	cmd.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Create the default chart of accounts, skipping existing names",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd, func(ctx context.Context, b store.Backend) error {
				tpl, err := ledger.DefaultChart()
				if err != nil {
					return err
				}
				created, err := ledger.NewService(b.Ledger()).SeedChart(ctx, tpl)
				if err != nil {
					return err
				}
				for _, acc := range created {
					fmt.Fprintf(a.out, "%-6s %-28s %s/%s\n", acc.Number, acc.Name, acc.Type, acc.Subtype)
				}
				fmt.Fprintf(a.out, "%d accounts created\n", len(created))
				return nil
			})
		},
	})
	return cmd
}

func (a *app) invoicesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "invoices", Short: "Invoice maintenance"}
	cmd.AddCommand(&cobra.Command{
		Use:   "sweep-overdue",
		Short: "Mark every past-due SENT or PARTIALLY_PAID invoice OVERDUE",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd, func(ctx context.Context, b store.Backend) error {
				marked, err := invoice.NewService(b.Invoices()).SweepOverdue(ctx, a.now())
				if err != nil {
					return err
				}
				for _, inv := range marked {
					fmt.Fprintf(a.out, "%s %s due %s\n", inv.InvoiceNumber, inv.ID, inv.DueDate.Format(time.DateOnly))
				}
				fmt.Fprintf(a.out, "%d invoices marked overdue\n", len(marked))
				return nil
			})
		},
	})
	return cmd
}

func (a *app) ledgerCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{Use: "ledger", Short: "Ledger maintenance"}
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Compare stored account balances with their posted entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd, func(ctx context.Context, b store.Backend) error {
				drift, err := ledger.NewService(b.Ledger()).VerifyBalances(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(a.out)
					enc.SetIndent("", "  ")
					if err := enc.Encode(drift); err != nil {
						return err
					}
				} else {
					for _, d := range drift {
						fmt.Fprintf(a.out, "%s %s stored=%s computed=%s\n", d.AccountID, d.Name, d.Stored, d.Computed)
					}
				}
				if len(drift) > 0 {
					return fmt.Errorf("%d accounts drifted", len(drift))
				}
				if !asJSON {
					fmt.Fprintln(a.out, "ledger balanced")
				}
				return nil
			})
		},
	}
	verify.Flags().BoolVar(&asJSON, "json", false, "print drift as JSON")
	cmd.AddCommand(verify)
	return cmd
}

func (a *app) demoCmd() *cobra.Command {
	var (
		events int
		seed   int64
		days   int
		feed   bool
	)
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Seed the chart and post generated business activity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if events < 1 {
				return errors.New("--events must be at least 1")
			}
			return a.withStore(cmd, func(ctx context.Context, b store.Backend) error {
				led := ledger.NewService(b.Ledger())
				tpl, err := ledger.DefaultChart()
				if err != nil {
					return err
				}
				if _, err := led.SeedChart(ctx, tpl); err != nil {
					return err
				}
				g := sim.NewGenerator(seed)
				start := a.now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -days)
				stats, records, err := sim.Run(ctx, led, g, events, start)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "seed %d: %d transactions, volume %s\n", g.Seed(), stats.Transactions, stats.Volume)
				if !feed || len(records) == 0 {
					return nil
				}
				res, err := a.demoFeed(ctx, b, led, records)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "bank feed: %d added, %d modified\n", res.Added, res.Modified)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&events, "events", 50, "number of transactions to post")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed; 0 picks one from the clock")
	cmd.Flags().IntVar(&days, "days-back", 60, "date the first transaction this many days ago")
	cmd.Flags().BoolVar(&feed, "bank-feed", true, "sync checking account movements into a linked bank account")
	return cmd
}

// demoFeed links the checking account once and syncs records into it.
func (a *app) demoFeed(ctx context.Context, b store.Backend, led *ledger.Service, records []bank.Record) (bank.SyncResult, error) {
	svc := bank.NewService(b.Bank())
	accounts, err := led.ListAccounts(ctx, ledger.AccountFilter{Type: ledger.Asset})
	if err != nil {
		return bank.SyncResult{}, err
	}
	var checkingID string
	for _, acc := range accounts {
		if acc.Number == sim.CheckingNumber {
			checkingID = acc.ID
		}
	}
	if checkingID == "" {
		return bank.SyncResult{}, fmt.Errorf("account %s missing", sim.CheckingNumber)
	}
	linked, err := svc.ListAccounts(ctx)
	if err != nil {
		return bank.SyncResult{}, err
	}
	var feedID string
	for _, l := range linked {
		if l.AccountID == checkingID {
			feedID = l.ID
		}
	}
	if feedID == "" {
		l, err := svc.LinkAccount(ctx, bank.AccountSpec{AccountID: checkingID, InstitutionName: "Demo Bank", AccountName: "Business Checking", AccountType: "depository", Mask: "0000"})
		if err != nil {
			return bank.SyncResult{}, err
		}
		feedID = l.ID
	}
	return svc.ApplySyncDelta(ctx, feedID, bank.SyncDelta{Added: records})
}

func (a *app) printList(label string, items []string) {
	if len(items) == 0 {
		fmt.Fprintf(a.out, "%s: none\n", label)
		return
	}
	for _, item := range items {
		fmt.Fprintf(a.out, "%s: %s\n", label, item)
	}
}
