package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/Xzeius/decentralised-marketspace/internal/catalog"
)

type itemView struct {
	TokenID     uint64 `json:"tokenId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Price       string `json:"price"`
	Owner       string `json:"owner"`
	Seller      string `json:"seller"`
	Listed      bool   `json:"currentlyListed"`
	Image       string `json:"image"`
	Metadata    string `json:"metadata"`
}

func viewOf(it catalog.Item) itemView {
	return itemView{
		TokenID:     it.TokenID,
		Name:        it.Metadata.Name,
		Description: it.Metadata.Description,
		Category:    it.Category(),
		Price:       it.PriceDecimal,
		Owner:       it.Owner.String(),
		Seller:      it.Seller.String(),
		Listed:      it.CurrentlyListed,
		Image:       it.ImageURL,
		Metadata:    it.MetadataURL,
	}
}

func printItems(w io.Writer, items []catalog.Item, asJSON bool) error {
	if asJSON {
		views := make([]itemView, len(items))
		for i, it := range items {
			views[i] = viewOf(it)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPRICE\tCATEGORY\tSELLER\tLISTED")
	for _, it := range items {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%t\n",
			it.TokenID, it.Metadata.Name, it.PriceDecimal, it.Category(), it.Seller.Short(), it.CurrentlyListed)
	}
	return tw.Flush()
}

func printItem(w io.Writer, it catalog.Item, asJSON bool) error {
	v := viewOf(it)
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Token\t%d\n", v.TokenID)
	fmt.Fprintf(tw, "Name\t%s\n", v.Name)
	fmt.Fprintf(tw, "Description\t%s\n", v.Description)
	fmt.Fprintf(tw, "Category\t%s\n", v.Category)
	fmt.Fprintf(tw, "Price\t%s\n", v.Price)
	fmt.Fprintf(tw, "Owner\t%s\n", v.Owner)
	fmt.Fprintf(tw, "Seller\t%s\n", v.Seller)
	fmt.Fprintf(tw, "Listed\t%t\n", v.Listed)
	fmt.Fprintf(tw, "Image\t%s\n", v.Image)
	fmt.Fprintf(tw, "Metadata\t%s\n", v.Metadata)
	return tw.Flush()
}
