package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Xzeius/decentralised-marketspace/internal/amount"
	"github.com/Xzeius/decentralised-marketspace/internal/catalog"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List every item on the marketplace",
	RunE:  runCatalog,
}

var itemCmd = &cobra.Command{
	Use:   "item <token-id>",
	Short: "Show a single item",
	Args:  cobra.ExactArgs(1),
	RunE:  runItem,
}

var ownedCmd = &cobra.Command{
	Use:   "owned",
	Short: "List the items owned or sold by the wallet",
	RunE:  runOwned,
}

var (
	searchTerm string
	sortKey    string
	jsonOutput bool
)

func init() {
	catalogCmd.Flags().StringVarP(&searchTerm, "search", "s", "", "filter by name or description")
	catalogCmd.Flags().StringVar(&sortKey, "sort", "default", "sort order: default, price-asc, price-desc, name, recent")
	for _, c := range []*cobra.Command{catalogCmd, itemCmd, ownedCmd} {
		c.Flags().BoolVar(&jsonOutput, "json", false, "print JSON")
	}

	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(itemCmd)
	rootCmd.AddCommand(ownedCmd)
}

func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newApp(cfg, nil)
}

func runCatalog(cmd *cobra.Command, args []string) error {
	key, err := catalog.ParseSortKey(sortKey)
	if err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	items, failed, err := a.pipeline.Sync(ctx, a.accessContext(ctx))
	if err != nil {
		return fmt.Errorf("catalog sync failed: %w", err)
	}
	if failed > 0 {
		log.Warnf("%d listings skipped because their metadata could not be loaded", failed)
	}
	return printItems(cmd.OutOrStdout(), catalog.View(items, searchTerm, key), jsonOutput)
}

func runItem(cmd *cobra.Command, args []string) error {
	tokenID, err := parseTokenID(args[0])
	if err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	item, err := a.pipeline.Item(ctx, a.accessContext(ctx), tokenID)
	if err != nil {
		return err
	}
	return printItem(cmd.OutOrStdout(), item, jsonOutput)
}

func runOwned(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	items, failed, err := a.pipeline.Owned(ctx, a.accessContext(ctx))
	if err != nil {
		return err
	}
	if failed > 0 {
		log.Warnf("%d owned listings skipped because their metadata could not be loaded", failed)
	}
	if err := printItems(cmd.OutOrStdout(), items, jsonOutput); err != nil {
		return err
	}
	if !jsonOutput {
		total := amount.ToDecimalString(catalog.TotalValue(items), a.cfg.Ledger.UnitExponent)
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d items, total value %s %s\n", len(items), total, a.cfg.Ledger.UnitSymbol)
	}
	return nil
}

func parseTokenID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid token id %q", s)
	}
	return id, nil
}

