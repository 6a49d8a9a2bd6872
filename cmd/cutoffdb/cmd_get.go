package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var getFormat string

var getCmd = &cobra.Command{
	Use:   "get <market-tag>",
	Short: "Look up the cutoff for one market",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all known cutoffs",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(listCmd)

	getCmd.Flags().StringVar(&getFormat, "format", "table", "Output format (table|json)")
	listCmd.Flags().StringVar(&getFormat, "format", "table", "Output format (table|json)")
}

func runGet(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}

	rec, err := st.GetCutoff(args[0])
	if err != nil {
		return err
	}

	if getFormat == "json" {
		out, err := json.MarshalIndent(rec.ToMap(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Market:\t%s\n", rec.MarketTag)
	fmt.Fprintf(w, "Cutoff:\t%s\n", rec.CutoffDate.Format(time.RFC3339))
	fmt.Fprintf(w, "Discovered:\t%s\n", rec.DiscoveryDate.Format(time.RFC3339))
	fmt.Fprintf(w, "Precision:\t%s\n", rec.Precision)
	fmt.Fprintf(w, "Exchange:\t%s\n", rec.Exchange)
	fmt.Fprintf(w, "Pair:\t%s/%s\n", rec.PrimaryAsset, rec.SecondaryAsset)
	return w.Flush()
}

func runList(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}

	records := st.GetAllCutoffs()

	if getFormat == "json" {
		out := make([]map[string]any, 0, len(records))
		for _, rec := range records {
			out = append(out, rec.ToMap())
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MARKET\tCUTOFF\tPRECISION\tEXCHANGE\tPAIR")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s/%s\n",
			rec.MarketTag,
			rec.CutoffDate.Format(time.RFC3339),
			rec.Precision,
			rec.Exchange,
			rec.PrimaryAsset, rec.SecondaryAsset,
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d cutoffs\n", len(records))
	return nil
}
