package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/Xzeius/decentralised-marketspace/internal/amount"
)

// ErrUnknownSortKey is returned by ParseSortKey.
var ErrUnknownSortKey = errors.New("unknown sort key")

// SortKey selects the catalog ordering.
type SortKey string

const (
	SortDefault   SortKey = "default"
	SortPriceAsc  SortKey = "price-asc"
	SortPriceDesc SortKey = "price-desc"
	SortName      SortKey = "name"
	SortRecent    SortKey = "recent"
)

// SortKeys lists the accepted keys in display order.
var SortKeys = []SortKey{SortDefault, SortPriceAsc, SortPriceDesc, SortName, SortRecent}

// ParseSortKey accepts the keys in SortKeys; the empty string is SortDefault.
func ParseSortKey(s string) (SortKey, error) {
	if s == "" {
		return SortDefault, nil
	}
	for _, k := range SortKeys {
		if strings.EqualFold(s, string(k)) {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSortKey, s)
}

// View filters items by a case-insensitive substring of name or description
// and orders the result by key. Ordering is stable and items is not
// modified.
func View(items []Item, search string, key SortKey) []Item {
	term := strings.ToLower(search)
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if term == "" ||
			strings.Contains(strings.ToLower(it.Metadata.Name), term) ||
			strings.Contains(strings.ToLower(it.Metadata.Description), term) {
			out = append(out, it)
		}
	}

	switch key {
	case SortPriceAsc:
		sort.SliceStable(out, func(i, j int) bool {
			return amount.CompareDecimal(out[i].PriceDecimal, out[j].PriceDecimal) < 0
		})
	case SortPriceDesc:
		sort.SliceStable(out, func(i, j int) bool {
			return amount.CompareDecimal(out[i].PriceDecimal, out[j].PriceDecimal) > 0
		})
	case SortName:
		// Collators are not safe for concurrent use.
		c := collate.New(language.Und)
		sort.SliceStable(out, func(i, j int) bool {
			return c.CompareString(out[i].Metadata.Name, out[j].Metadata.Name) < 0
		})
	case SortRecent:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].TokenID > out[j].TokenID
		})
	}
	return out
}
