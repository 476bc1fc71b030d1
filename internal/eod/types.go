package eod

// aggRow is the per-symbol summary of one day's order journal.
type aggRow struct {
	Symbol    string
	Placed    int     // attempts the broker accepted
	Rejected  int     // attempts the broker rejected or that failed in transit
	Closing   int     // accepted attempts that closed a position
	BuyQty    int     // quantity of accepted buys
	BuyValue  float64 // qty * price of accepted priced buys
	SellQty   int     // quantity of accepted sells
	SellValue float64 // qty * price of accepted priced sells
}
