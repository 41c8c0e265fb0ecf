package domain

import (
	"encoding/json"
	"strings"
)

type Kind string

const (
	KindDigital  Kind = "digital"
	KindPhysical Kind = "physical"
)

// ParseKind maps a request value to a Kind. Empty input means digital.
func ParseKind(s string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindDigital:
		return KindDigital, true
	case KindPhysical:
		return KindPhysical, true
	default:
		return "", false
	}
}

// LineItem is one product entry in a cart, keyed by PriceID.
type LineItem struct {
	PriceID    string `json:"priceId"`
	Name       string `json:"name"`
	Kind       Kind   `json:"kind"`
	UnitAmount int64  `json:"unitAmount"`
	Quantity   int    `json:"qty"`
	Img        string `json:"img,omitempty"`
	Slug       string `json:"slug,omitempty"`
}

// UnmarshalJSON accepts "quantity" when an older entry has no "qty".
func (li *LineItem) UnmarshalJSON(data []byte) error {
	type plain LineItem
	var aux struct {
		plain
		Qty      *int `json:"qty"`
		Quantity *int `json:"quantity"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*li = LineItem(aux.plain)
	switch {
	case aux.Qty != nil:
		li.Quantity = *aux.Qty
	case aux.Quantity != nil:
		li.Quantity = *aux.Quantity
	}
	return nil
}

// ItemInput is an add request. Nil fields leave a stored item's value
// unchanged when the PriceID is already in the cart.
type ItemInput struct {
	PriceID    string
	Name       *string
	Kind       *Kind
	UnitAmount *int64
	Quantity   int
	Img        *string
	Slug       *string
}

const DefaultName = "Item"

// NewLineItem builds the item appended for a PriceID not yet in the cart.
// Missing name and kind fall back to DefaultName and KindDigital.
func (in ItemInput) NewLineItem() LineItem {
	item := LineItem{
		PriceID:  in.PriceID,
		Name:     DefaultName,
		Kind:     KindDigital,
		Quantity: ClampQuantity(in.increment()),
	}
	in.mergeInto(&item)
	return item
}

// MergeInto adds the incoming quantity to item and overwrites the display
// fields that are present on the input.
func (in ItemInput) MergeInto(item *LineItem) {
	item.Quantity = ClampQuantity(item.Quantity + ClampQuantity(in.increment()))
	in.mergeInto(item)
}

func (in ItemInput) mergeInto(item *LineItem) {
	if in.Name != nil {
		item.Name = *in.Name
	}
	if in.Kind != nil {
		item.Kind = *in.Kind
	}
	if in.UnitAmount != nil {
		item.UnitAmount = *in.UnitAmount
	}
	if in.Img != nil {
		item.Img = *in.Img
	}
	if in.Slug != nil {
		item.Slug = *in.Slug
	}
}

func (in ItemInput) increment() int {
	if in.Quantity < MinQuantity {
		return 1
	}
	return in.Quantity
}

// NeedsShipping reports whether any item must be physically delivered.
func NeedsShipping(items []LineItem) bool {
	for _, item := range items {
		if item.Kind == KindPhysical {
			return true
		}
	}
	return false
}

// NormalizeItems brings persisted entries back in line with what the cart
// itself would have written: entries without a PriceID are dropped,
// quantities are clamped, unknown kinds read as digital, negative amounts
// as zero, and duplicate PriceIDs merge into the first entry with their
// quantities summed. It reports whether anything changed.
func NormalizeItems(items []LineItem) ([]LineItem, bool) {
	out := make([]LineItem, 0, len(items))
	index := make(map[string]int, len(items))
	changed := false
	for _, item := range items {
		id := strings.TrimSpace(item.PriceID)
		if id == "" {
			changed = true
			continue
		}
		if id != item.PriceID {
			item.PriceID = id
			changed = true
		}
		if q := ClampQuantity(item.Quantity); q != item.Quantity {
			item.Quantity = q
			changed = true
		}
		if kind, ok := ParseKind(string(item.Kind)); !ok || kind != item.Kind {
			if !ok {
				kind = KindDigital
			}
			item.Kind = kind
			changed = true
		}
		if item.UnitAmount < 0 {
			item.UnitAmount = 0
			changed = true
		}
		if i, ok := index[id]; ok {
			out[i].Quantity = ClampQuantity(out[i].Quantity + item.Quantity)
			changed = true
			continue
		}
		index[id] = len(out)
		out = append(out, item)
	}
	return out, changed
}

// DecodeItems parses a persisted cart. A JSON null decodes to an empty cart.
func DecodeItems(data []byte) ([]LineItem, error) {
	var items []LineItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	if items == nil {
		items = []LineItem{}
	}
	return items, nil
}

func EncodeItems(items []LineItem) ([]byte, error) {
	if items == nil {
		items = []LineItem{}
	}
	return json.Marshal(items)
}
