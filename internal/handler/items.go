package handler

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/StevenEgasJ/SupermarketTatylu-sub000/internal/models"
)

// quantityFields lists the accepted quantity keys, canonical first. Older
// clients still send one of the aliases.
var quantityFields = []string{"quantity", "qty", "count", "amount"}

// lineItem decodes one request line. item_ref may be given as product_id,
// and either may be a number or a string. A quantity that is not a whole
// number decodes to 0 and is rejected downstream.
type lineItem models.LineItem

func (it *lineItem) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*it = lineItem{}
	if v, ok := present(raw, "item_ref"); ok {
		it.ItemRef = decodeRef(v)
	} else if v, ok := present(raw, "product_id"); ok {
		it.ItemRef = decodeRef(v)
	}
	for _, f := range quantityFields {
		if v, ok := present(raw, f); ok {
			it.Quantity = decodeQuantity(v)
			break
		}
	}
	return nil
}

// present treats an explicit null like a missing key.
func present(raw map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	v, ok := raw[key]
	if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return nil, false
	}
	return v, true
}

func decodeRef(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String()
	}
	return ""
}

func decodeQuantity(v json.RawMessage) int {
	var text string
	if err := json.Unmarshal(v, &text); err != nil {
		var n json.Number
		if err := json.Unmarshal(v, &n); err != nil {
			return 0
		}
		text = n.String()
	}
	q, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return 0
	}
	return q
}

func toLineItems(in []lineItem) []models.LineItem {
	if in == nil {
		return nil
	}
	out := make([]models.LineItem, len(in))
	for i, it := range in {
		out[i] = models.LineItem(it)
	}
	return out
}
