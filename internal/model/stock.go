package model

// DepositStock holds one deposit's live quantities for a single SKU, as
// reported by the ERP stock endpoint. Quantities are not persisted
// locally beyond the query result.
type DepositStock struct {
	Deposit  string `json:"deposit"`
	Total    int    `json:"total"`
	Reserved int    `json:"reserved"`
}

// Available returns total minus reserved, floored at zero. The ERP can
// briefly report reserved > total during concurrent picking.
func (d DepositStock) Available() int {
	if d.Reserved >= d.Total {
		return 0
	}
	return d.Total - d.Reserved
}

// StockLevels maps deposit code to that deposit's quantities for one SKU.
type StockLevels map[string]DepositStock
