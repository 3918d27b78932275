package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Xzeius/decentralised-marketspace/internal/amount"
	"github.com/Xzeius/decentralised-marketspace/internal/catalog"
	"github.com/Xzeius/decentralised-marketspace/internal/storefront"
)

var sellCmd = &cobra.Command{
	Use:   "sell",
	Short: "Upload an item and list it for sale",
	RunE:  runSell,
}

var buyCmd = &cobra.Command{
	Use:   "buy <token-id>",
	Short: "Buy a listed item at its listing price",
	Args:  cobra.ExactArgs(1),
	RunE:  runBuy,
}

var resellCmd = &cobra.Command{
	Use:   "resell <token-id>",
	Short: "List an owned item for sale again",
	Args:  cobra.ExactArgs(1),
	RunE:  runResell,
}

var (
	sellInput storefront.ListingInput
	sellImage string
	resellTo  string
)

func init() {
	sellCmd.Flags().StringVar(&sellInput.Name, "name", "", "item name")
	sellCmd.Flags().StringVar(&sellInput.Description, "description", "", "item description")
	sellCmd.Flags().StringVar(&sellInput.Category, "category", "", "item category")
	sellCmd.Flags().StringVar(&sellInput.Price, "price", "", "price in display units, e.g. 0.05")
	sellCmd.Flags().StringVar(&sellImage, "image", "", "image file to upload")
	sellCmd.Flags().StringVar(&sellInput.AssetLocator, "image-uri", "", "already uploaded image locator, e.g. ipfs://<cid>")

	resellCmd.Flags().StringVar(&resellTo, "price", "", "new price in display units")

	rootCmd.AddCommand(sellCmd)
	rootCmd.AddCommand(buyCmd)
	rootCmd.AddCommand(resellCmd)
}

func statusPrinter(cmd *cobra.Command) storefront.StatusSink {
	out := cmd.ErrOrStderr()
	return storefront.StatusFunc(func(s storefront.Status) {
		fmt.Fprintln(out, s)
	})
}

func runSell(cmd *cobra.Command, args []string) error {
	in := sellInput
	if sellImage != "" && in.AssetLocator == "" {
		data, err := os.ReadFile(sellImage)
		if err != nil {
			return fmt.Errorf("read image: %w", err)
		}
		in.Asset = data
		in.AssetName = filepath.Base(sellImage)
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := runIntent(cmd, a, storefront.NewListingIntent(in))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "listed in tx %s (block %d), metadata %s\n", res.TxHash, res.BlockNumber, res.MetadataLocator)
	return nil
}

// runIntent drives one storefront flow, printing each status change.
func runIntent(cmd *cobra.Command, a *app, intent storefront.Intent) (storefront.Result, error) {
	ctx := cmd.Context()
	flow := a.orchestrator(statusPrinter(cmd), nil).Begin(intent)
	log.Debugf("starting %s flow %s", flow.Intent().Kind, flow.Intent().ID)
	res, err := flow.Run(ctx, a.accessContext(ctx))
	if err != nil {
		log.Debugf("%s flow %s ended in %s", flow.Intent().Kind, flow.Intent().ID, flow.State())
	}
	return res, err
}

// ledgerItem reads a listing straight from the ledger so that trading does
// not depend on a metadata gateway being reachable.
func ledgerItem(cmd *cobra.Command, a *app, raw string) (catalog.Item, error) {
	tokenID, err := parseTokenID(raw)
	if err != nil {
		return catalog.Item{}, err
	}
	ctx := cmd.Context()
	rec, err := a.client.Listing(ctx, a.accessContext(ctx), tokenID)
	if err != nil {
		return catalog.Item{}, err
	}
	if rec.TokenID != tokenID {
		return catalog.Item{}, fmt.Errorf("token %d does not exist", tokenID)
	}
	return catalog.Item{
		ListingRecord: rec,
		PriceDecimal:  amount.ToDecimalString(rec.Price, a.cfg.Ledger.UnitExponent),
	}, nil
}

func runBuy(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	item, err := ledgerItem(cmd, a, args[0])
	if err != nil {
		return err
	}
	res, err := runIntent(cmd, a, storefront.NewPurchaseIntent(item))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "bought token %d for %s %s in tx %s\n", item.TokenID, item.PriceDecimal, a.cfg.Ledger.UnitSymbol, res.TxHash)
	return nil
}

func runResell(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	item, err := ledgerItem(cmd, a, args[0])
	if err != nil {
		return err
	}

	res, err := runIntent(cmd, a, storefront.NewResellIntent(item, resellTo))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "relisted token %d in tx %s\n", item.TokenID, res.TxHash)
	return nil
}
