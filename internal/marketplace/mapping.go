package marketplace

import (
	"encoding/json"
	"fmt"
	"time"

	"fulfillsync/internal/model"
)

// rawOrder mirrors the feed's order payload. Only id and line quantities
// are required; everything else defaults.
type rawOrder struct {
	ID          json.Number `json:"id"`
	PackID      json.Number `json:"pack_id"`
	Status      string      `json:"status"`
	DateCreated string      `json:"date_created"`
	Buyer       struct {
		Nickname string `json:"nickname"`
	} `json:"buyer"`
	OrderItems []rawOrderItem `json:"order_items"`
	Shipping   struct {
		ID        json.Number `json:"id"`
		Status    string      `json:"status"`
		Substatus string      `json:"substatus"`
	} `json:"shipping"`
	Comment string `json:"comment"`
}

type rawOrderItem struct {
	Item struct {
		// Item ids are alphanumeric ("MLA..."), unlike the numeric
		// order and variation ids.
		ID                  string      `json:"id"`
		VariationID         json.Number `json:"variation_id"`
		SellerCustomField   string      `json:"seller_custom_field"`
		SellerSKU           string      `json:"seller_sku"`
		VariationAttributes []struct {
			Name      string `json:"name"`
			ValueName string `json:"value_name"`
		} `json:"variation_attributes"`
	} `json:"item"`
	Quantity int    `json:"quantity"`
	Barcode  string `json:"barcode"`
}

// rawItemDetail mirrors the extended item payload used for live lookups.
type rawItemDetail struct {
	ID                string             `json:"id"`
	SellerCustomField string             `json:"seller_custom_field"`
	SellerSKU         string             `json:"seller_sku"`
	Variations        []rawItemVariation `json:"variations"`
}

type rawItemVariation struct {
	ID                json.Number `json:"id"`
	SellerCustomField string      `json:"seller_custom_field"`
	SellerSKU         string      `json:"seller_sku"`
}

func (i *rawItemDetail) sellerCode() string {
	if i.SellerCustomField != "" {
		return i.SellerCustomField
	}
	return i.SellerSKU
}

func (v *rawItemVariation) sellerCode() string {
	if v.SellerCustomField != "" {
		return v.SellerCustomField
	}
	return v.SellerSKU
}

// MapOrder converts a raw feed payload into the local order model.
// It fails only on truly required fields (order id, line quantity);
// everything else defaults, matching the feed's loose schema.
func MapOrder(raw rawOrder) (model.Order, error) {
	if raw.ID.String() == "" {
		return model.Order{}, fmt.Errorf("order payload missing id")
	}

	order := model.Order{
		ExternalID:    raw.ID.String(),
		BuyerNickname: raw.Buyer.Nickname,
		Note:          raw.Comment,
		Status:        statusFromFeed(raw.Status, raw.Shipping.Status, raw.Shipping.Substatus),
		DateCreated:   parseFeedTime(raw.DateCreated),
	}
	if raw.PackID.String() != "" && raw.PackID.String() != "0" {
		order.PackID = raw.PackID.String()
	}

	for idx, line := range raw.OrderItems {
		if line.Quantity < 1 {
			return model.Order{}, fmt.Errorf("order %s line %d has quantity %d", order.ExternalID, idx, line.Quantity)
		}

		item := model.OrderItem{
			ItemID:     line.Item.ID,
			SellerCode: line.Item.SellerCustomField,
			Barcode:    line.Barcode,
			Quantity:   line.Quantity,
		}
		if item.SellerCode == "" {
			item.SellerCode = line.Item.SellerSKU
		}
		if line.Item.VariationID.String() != "" && line.Item.VariationID.String() != "0" {
			item.VariationID = line.Item.VariationID.String()
		}
		for _, attr := range line.Item.VariationAttributes {
			switch attr.Name {
			case "Talle", "Size":
				item.Size = attr.ValueName
			case "Color":
				item.Color = attr.ValueName
			}
		}

		order.Items = append(order.Items, item)
	}

	return order, nil
}

// statusFromFeed maps feed order/shipping status onto the local
// lifecycle. Shipping substatus carries the picking-relevant states.
func statusFromFeed(orderStatus, shippingStatus, shippingSubstatus string) model.Status {
	if orderStatus == "cancelled" || shippingStatus == "cancelled" {
		return model.StatusCanceled
	}

	switch shippingSubstatus {
	case "ready_to_print":
		return model.StatusReadyToPrint
	case "printed":
		return model.StatusPrinted
	}

	switch shippingStatus {
	case "shipped":
		return model.StatusShipped
	case "delivered":
		return model.StatusDelivered
	}

	if orderStatus == "paid" {
		return model.StatusPaid
	}
	return model.StatusCreated
}

// parseFeedTime parses the feed's timestamp formats, defaulting to now
// when unparsable (the field is informational, not a cursor).
func parseFeedTime(raw string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05.000-07:00"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}
