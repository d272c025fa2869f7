package streaming

import "fmt"

// Item key builders for the server-side adapters. Each feed addresses
// items by a prefix plus an epic or account identifier.

// MarketItem returns the item key for a market data feed.
func MarketItem(epic string) string {
	return "MARKET:" + epic
}

// TradeItem returns the item key for the trade event feed of an
// account.
func TradeItem(accountID string) string {
	return "TRADE:" + accountID
}

// AccountItem returns the item key for the balance feed of an account.
func AccountItem(accountID string) string {
	return "ACCOUNT:" + accountID
}

// PriceItem returns the item key for the account-scoped price book of
// an epic.
func PriceItem(accountID, epic string) string {
	return fmt.Sprintf("PRICE:%s:%s", accountID, epic)
}

// ChartItem returns the item key for the tick chart of an epic at the
// given scale.
func ChartItem(epic string, scale ChartScale) string {
	return fmt.Sprintf("CHART:%s:%s", epic, scale)
}
