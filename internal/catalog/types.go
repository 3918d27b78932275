// Package catalog joins ledger listings with their off-chain metadata into
// renderable items, keeps the latest snapshot, and filters and sorts it for
// display.
package catalog

import (
	"errors"
	"fmt"

	logging "github.com/ipfs/go-log/v2"
	"github.com/tidwall/gjson"

	"github.com/Xzeius/decentralised-marketspace/internal/ledger"
)

var log = logging.Logger("catalog")

// ErrMetadataFetch wraps any failure to turn one listing into an item.
var ErrMetadataFetch = errors.New("metadata fetch failed")

// DefaultCategory is shown for items whose metadata names none.
const DefaultCategory = "general"

// MetadataDocument is the off-chain description of a listed asset.
type MetadataDocument struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
	Category    string `json:"category,omitempty"`
	// Price is informational. The ledger price is authoritative.
	Price string `json:"price,omitempty"`
}

// DecodeMetadata parses a metadata document. Unknown fields are ignored;
// name, description and image are required.
func DecodeMetadata(data []byte) (MetadataDocument, error) {
	if !gjson.ValidBytes(data) {
		return MetadataDocument{}, fmt.Errorf("metadata is not valid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return MetadataDocument{}, fmt.Errorf("metadata is not a JSON object")
	}

	doc := MetadataDocument{
		Name:        root.Get("name").String(),
		Description: root.Get("description").String(),
		Image:       root.Get("image").String(),
		Category:    root.Get("category").String(),
		Price:       root.Get("price").String(),
	}
	switch {
	case doc.Name == "":
		return doc, fmt.Errorf("metadata has no name")
	case doc.Description == "":
		return doc, fmt.Errorf("metadata has no description")
	case doc.Image == "":
		return doc, fmt.Errorf("metadata has no image")
	}
	return doc, nil
}

// Item is a listing whose metadata was fetched successfully.
type Item struct {
	ledger.ListingRecord
	Metadata MetadataDocument
	// PriceDecimal is the ledger price in display units.
	PriceDecimal string
	ImageURL     string
	MetadataURL  string
}

// Category returns the metadata category or DefaultCategory.
func (it Item) Category() string {
	if it.Metadata.Category == "" {
		return DefaultCategory
	}
	return it.Metadata.Category
}
