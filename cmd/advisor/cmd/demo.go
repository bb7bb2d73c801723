package cmd

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/advisor/allocator"
	"github.com/rustyeddy/advisor/broker/sim"
	"github.com/rustyeddy/advisor/expert"
	"github.com/rustyeddy/advisor/internal/id"
	"github.com/rustyeddy/advisor/model"
	"github.com/rustyeddy/advisor/notify"
	"github.com/rustyeddy/advisor/rules"
	"github.com/rustyeddy/advisor/sched"
	"github.com/rustyeddy/advisor/store"
	"github.com/rustyeddy/advisor/txsync"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the whole pipeline once against an in-memory store",
	Long: `Run a self-contained demo: seed a recommendation, evaluate the
built-in ruleset, allocate capital, submit the funded order to the simulated
broker and refresh the resulting transaction.

Shows the basic workflow of:
  1. A recommendation arriving from an expert
  2. Rule evaluation materializing an unsized entry
  3. The allocator sizing it under the per-instrument cap
  4. Broker submission and transaction opening

Example:
  advisor demo`,
	RunE: runDemo,
}

func init() {
	rootCmd.AddCommand(demoCmd)
}

func runDemo(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := log.New(os.Stderr, "demo ", log.LstdFlags)

	st := store.NewMemory()
	drv := sim.New(100_000)
	drv.SetPrice("SBER", 250)
	drv.SetPrice("GAZP", 150)

	exp := expert.Instance{
		ID:             "demo-expert",
		AccountID:      "DEMO-001",
		Name:           "demo",
		RulesetID:      "demo-ruleset",
		VirtualBalance: 2000,
		Settings: expert.Settings{
			EnableBuy:                  true,
			EnableSell:                 true,
			AllowAutomatedTradeOpening: true,
			MaxEquityPerInstrumentPct:  25,
		},
	}

	if err := st.SaveRuleset(ctx, demoRuleset()); err != nil {
		return err
	}

	rec := &model.Recommendation{
		ID:                id.New(),
		Symbol:            "SBER",
		Signal:            model.SignalBuy,
		Confidence:        85,
		ExpectedProfitPct: 12,
		PriceAtDate:       250,
		ExpertID:          exp.ID,
	}
	if err := st.CreateRecommendation(ctx, rec); err != nil {
		return err
	}
	fmt.Printf("Seeded recommendation: BUY %s (confidence %.0f, expected profit %.0f%%)\n\n",
		rec.Symbol, rec.Confidence, rec.ExpectedProfitPct)

	txs := txsync.New(st, drv, logger)
	s := sched.New(st, drv,
		rules.New(st, drv, txs, logger),
		allocator.New(st, drv, txs, logger),
		txs, notify.NewLog(logger),
		[]expert.Instance{exp}, logger)

	for _, pass := range []struct {
		name string
		fn   func(context.Context) error
	}{
		{"evaluate", s.Evaluate},
		{"allocate", s.Allocate},
		{"release", s.Release},
		{"refresh", s.Refresh},
	} {
		fmt.Printf("--- %s pass ---\n", pass.name)
		if err := pass.fn(ctx); err != nil {
			return fmt.Errorf("%s pass: %w", pass.name, err)
		}
	}

	open, err := st.OpenTransactionsByExpert(ctx, exp.ID)
	if err != nil {
		return err
	}
	fmt.Println("\nResult:")
	for i := range open {
		tx := &open[i]
		fmt.Printf("  transaction %s: %s x%.0f @ %.2f (%s)\n",
			tx.ID, tx.Symbol, tx.Quantity, tx.OpenPrice, tx.Status)
	}
	if len(open) == 0 {
		fmt.Println("  no open transactions")
	}
	return nil
}

func demoRuleset() *model.Ruleset {
	return &model.Ruleset{
		ID:   "demo-ruleset",
		Name: "demo momentum entry",
		Rules: []model.Rule{{
			Name: "enter on confident buy",
			Triggers: []model.Trigger{
				{ID: "signal", Kind: model.CondSignalBuy},
				{ID: "confidence", Kind: model.CondConfidence, Op: model.OpGE, Value: 70},
				{ID: "fresh", Kind: model.CondNoTransaction},
			},
			Actions: []model.RuleAction{{ID: "enter", Kind: model.ActBuy}},
		}},
	}
}
