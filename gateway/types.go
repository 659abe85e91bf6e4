package gateway

import (
	"errors"

	"grid-trader-go/market"
)

// 网关层错误
var (
	ErrMarketsNotLoaded  = errors.New("markets not loaded")
	ErrUnknownSymbol     = errors.New("unknown symbol")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOrderNotFound     = errors.New("order not found")
)

// MarketInfo 交易对元数据（精度与最小下单约束）
type MarketInfo struct {
	Symbol      string  // BNB/USDT
	Base        string  // BNB
	Quote       string  // USDT
	StepSize    float64 // 数量步进
	MinQty      float64 // 最小数量
	MinNotional float64 // 最小名义金额
}

// Ticker 实时行情快照
type Ticker struct {
	Symbol string
	Last   float64
	Bid    float64
	Ask    float64
	High   float64
	Low    float64
	Volume float64
}

// Balance 单资产余额
type Balance struct {
	Free  float64
	Used  float64
	Total float64
}

// Order 订单回执
type Order struct {
	ID     string
	Symbol string
	Side   string // buy / sell
	Amount float64
	Filled float64
	Price  float64 // 平均成交价
	Cost   float64 // 成交金额（计价货币）
	Status string  // open / closed / canceled
}

// Fill 成交明细
type Fill struct {
	OrderID   string
	Symbol    string
	Side      string
	Price     float64
	Amount    float64
	Cost      float64
	Fee       float64
	FeeAsset  string
	Timestamp int64 // 毫秒
}

// Gateway 交易所访问接口；实盘与模拟盘共用
type Gateway interface {
	// LoadMarkets 拉取交易对元数据，启动时必须先调用
	LoadMarkets() error
	Market(symbol string) (MarketInfo, error)

	FetchTicker(symbol string) (Ticker, error)
	FetchBalance() (map[string]Balance, error)
	FetchOHLCV(symbol, interval string, limit int) ([]market.Kline, error)

	CreateMarketOrder(symbol, side string, amount float64) (Order, error)
	FetchOpenOrders(symbol string) ([]Order, error)
	CancelOrder(symbol, orderID string) error
	FetchMyTrades(symbol string, limit int) ([]Fill, error)

	// TransferFromEarn 从理财账户赎回到现货账户
	TransferFromEarn(asset string, amount float64) error

	Close() error
}
