package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iamcos/cutoffdb/internal/cutoff"
)

var (
	storeMarket    string
	storeCutoffAt  string
	storePrecision time.Duration
	storeMeta      []string
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Store a discovered cutoff for a market",
	Long: `Store the earliest-data cutoff discovered for a market. Storing a market
that already has a cutoff fails: cutoffs are facts, not configuration.

Examples:
  cutoffdb store --market BINANCEFUTURES_BTC_USDT_PERPETUAL --cutoff 2020-01-15T08:00:00Z
  cutoffdb store --market BINANCE_ETH_USDT --cutoff 2017-08-17T00:00:00Z --precision 1h \
      --meta tests_performed=12 --meta source=probe_run_44`,
	RunE: runStore,
}

func init() {
	rootCmd.AddCommand(storeCmd)

	storeCmd.Flags().StringVar(&storeMarket, "market", "", "Market tag (EXCHANGE_PRIMARY_SECONDARY[_TYPE])")
	storeCmd.Flags().StringVar(&storeCutoffAt, "cutoff", "", "Cutoff timestamp (RFC3339)")
	storeCmd.Flags().DurationVar(&storePrecision, "precision", 24*time.Hour, "Precision of the discovery search")
	storeCmd.Flags().StringArrayVar(&storeMeta, "meta", nil, "Discovery metadata as key=value (repeatable)")
	_ = storeCmd.MarkFlagRequired("market")
	_ = storeCmd.MarkFlagRequired("cutoff")
}

func runStore(cmd *cobra.Command, args []string) error {
	cutoffAt, err := time.Parse(time.RFC3339, storeCutoffAt)
	if err != nil {
		return fmt.Errorf("parse --cutoff: %w", err)
	}

	rec := cutoff.NewRecord(storeMarket, cutoffAt, storePrecision)
	for _, kv := range storeMeta {
		key, value, found := strings.Cut(kv, "=")
		if !found || key == "" {
			return fmt.Errorf("--meta %q is not key=value", kv)
		}
		if rec.DiscoveryMetadata == nil {
			rec.DiscoveryMetadata = make(map[string]any)
		}
		rec.DiscoveryMetadata[key] = value
	}

	st, err := openStore()
	if err != nil {
		return err
	}

	if err := st.StoreCutoff(rec); err != nil {
		return err
	}

	fmt.Printf("Stored cutoff for %s: %s (precision %s)\n",
		rec.MarketTag, rec.CutoffDate.Format(time.RFC3339), rec.Precision)
	return nil
}
