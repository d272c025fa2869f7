package streaming

// MarketField is a field of the MARKET item feed.
type MarketField string

// Market feed fields.
const (
	MarketFieldBid         MarketField = "BID"
	MarketFieldOffer       MarketField = "OFFER"
	MarketFieldMidOpen     MarketField = "MID_OPEN"
	MarketFieldHigh        MarketField = "HIGH"
	MarketFieldLow         MarketField = "LOW"
	MarketFieldChange      MarketField = "CHANGE"
	MarketFieldChangePct   MarketField = "CHANGE_PCT"
	MarketFieldUpdateTime  MarketField = "UPDATE_TIME"
	MarketFieldMarketDelay MarketField = "MARKET_DELAY"
	MarketFieldMarketState MarketField = "MARKET_STATE"
)

// AllMarketFields returns every market field in schema order.
func AllMarketFields() []MarketField {
	return []MarketField{
		MarketFieldBid, MarketFieldOffer, MarketFieldMidOpen,
		MarketFieldHigh, MarketFieldLow, MarketFieldChange,
		MarketFieldChangePct, MarketFieldUpdateTime,
		MarketFieldMarketDelay, MarketFieldMarketState,
	}
}

// TradeField is a field of the TRADE item feed.
type TradeField string

// Trade feed fields.
const (
	TradeFieldConfirms TradeField = "CONFIRMS"
	TradeFieldOPU      TradeField = "OPU"
	TradeFieldWOU      TradeField = "WOU"
)

// AllTradeFields returns every trade field in schema order.
func AllTradeFields() []TradeField {
	return []TradeField{TradeFieldConfirms, TradeFieldOPU, TradeFieldWOU}
}

// AccountField is a field of the ACCOUNT item feed.
type AccountField string

// Account feed fields.
const (
	AccountFieldPNL             AccountField = "PNL"
	AccountFieldDeposit         AccountField = "DEPOSIT"
	AccountFieldAvailableCash   AccountField = "AVAILABLE_CASH"
	AccountFieldPNLLR           AccountField = "PNL_LR"
	AccountFieldPNLNLR          AccountField = "PNL_NLR"
	AccountFieldFunds           AccountField = "FUNDS"
	AccountFieldMargin          AccountField = "MARGIN"
	AccountFieldMarginLR        AccountField = "MARGIN_LR"
	AccountFieldMarginNLR       AccountField = "MARGIN_NLR"
	AccountFieldAvailableToDeal AccountField = "AVAILABLE_TO_DEAL"
	AccountFieldEquity          AccountField = "EQUITY"
	AccountFieldEquityUsed      AccountField = "EQUITY_USED"
)

// AllAccountFields returns every account field in schema order.
func AllAccountFields() []AccountField {
	return []AccountField{
		AccountFieldPNL, AccountFieldDeposit, AccountFieldAvailableCash,
		AccountFieldPNLLR, AccountFieldPNLNLR, AccountFieldFunds,
		AccountFieldMargin, AccountFieldMarginLR, AccountFieldMarginNLR,
		AccountFieldAvailableToDeal, AccountFieldEquity,
		AccountFieldEquityUsed,
	}
}

// PriceField is a field of the account-scoped PRICE book feed.
type PriceField string

// Price feed fields.
const (
	PriceFieldBidPrice1   PriceField = "BIDPRICE1"
	PriceFieldAskPrice1   PriceField = "ASKPRICE1"
	PriceFieldBidQuoteID  PriceField = "BIDQUOTEID"
	PriceFieldAskQuoteID  PriceField = "ASKQUOTEID"
	PriceFieldTimestamp   PriceField = "TIMESTAMP"
	PriceFieldDealingFlag PriceField = "DLG_FLAG"
)

// AllPriceFields returns the default price book schema.
func AllPriceFields() []PriceField {
	return []PriceField{
		PriceFieldBidPrice1, PriceFieldAskPrice1,
		PriceFieldBidQuoteID, PriceFieldAskQuoteID,
		PriceFieldTimestamp, PriceFieldDealingFlag,
	}
}

// ChartField is a field of the CHART tick feed.
type ChartField string

// Chart tick fields.
const (
	ChartFieldBid        ChartField = "BID"
	ChartFieldOffer      ChartField = "OFR"
	ChartFieldLastTraded ChartField = "LTP"
	ChartFieldLastVolume ChartField = "LTV"
	ChartFieldTickVolume ChartField = "TTV"
	ChartFieldUpdateTime ChartField = "UTM"
)

// AllChartFields returns the default chart tick schema.
func AllChartFields() []ChartField {
	return []ChartField{
		ChartFieldBid, ChartFieldOffer, ChartFieldLastTraded,
		ChartFieldLastVolume, ChartFieldTickVolume, ChartFieldUpdateTime,
	}
}

// ChartScale selects the chart aggregation interval.
type ChartScale string

// Chart scales.
const (
	ChartScaleSecond     ChartScale = "SECOND"
	ChartScaleMinute     ChartScale = "1MINUTE"
	ChartScaleFiveMinute ChartScale = "5MINUTE"
	ChartScaleHour       ChartScale = "HOUR"
)

func marketSchema(fields []MarketField) []string {
	if len(fields) == 0 {
		fields = AllMarketFields()
	}
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = string(f)
	}
	return out
}

func tradeSchema(fields []TradeField) []string {
	if len(fields) == 0 {
		fields = AllTradeFields()
	}
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = string(f)
	}
	return out
}

func accountSchema(fields []AccountField) []string {
	if len(fields) == 0 {
		fields = AllAccountFields()
	}
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = string(f)
	}
	return out
}

func priceSchema(fields []PriceField) []string {
	if len(fields) == 0 {
		fields = AllPriceFields()
	}
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = string(f)
	}
	return out
}

func chartSchema(fields []ChartField) []string {
	if len(fields) == 0 {
		fields = AllChartFields()
	}
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = string(f)
	}
	return out
}
