package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"grid-trader-go/market"
)

// BinanceClient 现货REST客户端；HTTPClient可注入httptest，默认不发起真实网络调用。
type BinanceClient struct {
	BaseURL    string
	APIKey     string
	Secret     string
	HTTPClient *http.Client
	Limiter    RateLimiter

	mu      sync.RWMutex
	markets map[string]MarketInfo // key: BNB/USDT
}

// NewBinanceClient 创建客户端
func NewBinanceClient(baseURL, apiKey, secret string, httpCli *http.Client, limiter RateLimiter) *BinanceClient {
	if httpCli == nil {
		httpCli = NewDefaultHTTPClient()
	}
	return &BinanceClient{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		Secret:     secret,
		HTTPClient: httpCli,
		Limiter:    limiter,
		markets:    make(map[string]MarketInfo),
	}
}

// NewDefaultHTTPClient 提供一个带超时的 http.Client。
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// pairID 将 BNB/USDT 转成交易所格式 BNBUSDT
func pairID(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}

func (c *BinanceClient) wait() {
	if c.Limiter != nil {
		c.Limiter.Wait()
	}
}

func (c *BinanceClient) do(req *http.Request) ([]byte, error) {
	c.wait()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s status %d: %s", req.Method, req.URL.Path, resp.StatusCode, body)
	}
	return body, nil
}

// get 发起公共GET请求
func (c *BinanceClient) get(path string, params url.Values) ([]byte, error) {
	endpoint := c.BaseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// signed 发起签名请求
func (c *BinanceClient) signed(method, path string, params map[string]string) ([]byte, error) {
	if params == nil {
		params = make(map[string]string)
	}
	params["timestamp"] = timestampMillis()
	params["recvWindow"] = "5000"
	query, sig := SignParams(params, c.Secret)
	endpoint := c.BaseURL + path + "?" + query + "&signature=" + url.QueryEscape(sig)
	req, err := http.NewRequest(method, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.APIKey)
	return c.do(req)
}

type exchangeInfoResp struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
		Filters    []struct {
			FilterType  string `json:"filterType"`
			StepSize    string `json:"stepSize"`
			MinQty      string `json:"minQty"`
			MinNotional string `json:"minNotional"`
		} `json:"filters"`
	} `json:"symbols"`
}

// LoadMarkets 拉取全部现货交易对元数据
func (c *BinanceClient) LoadMarkets() error {
	body, err := c.get("/api/v3/exchangeInfo", nil)
	if err != nil {
		return fmt.Errorf("load markets: %w", err)
	}
	var info exchangeInfoResp
	if err := json.Unmarshal(body, &info); err != nil {
		return fmt.Errorf("parse exchange info: %w", err)
	}

	markets := make(map[string]MarketInfo, len(info.Symbols))
	for _, s := range info.Symbols {
		m := MarketInfo{
			Symbol: s.BaseAsset + "/" + s.QuoteAsset,
			Base:   s.BaseAsset,
			Quote:  s.QuoteAsset,
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				m.StepSize = parseFloat(f.StepSize)
				m.MinQty = parseFloat(f.MinQty)
			case "NOTIONAL", "MIN_NOTIONAL":
				m.MinNotional = parseFloat(f.MinNotional)
			}
		}
		markets[m.Symbol] = m
	}

	c.mu.Lock()
	c.markets = markets
	c.mu.Unlock()
	return nil
}

// Market 返回交易对元数据
func (c *BinanceClient) Market(symbol string) (MarketInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.markets) == 0 {
		return MarketInfo{}, ErrMarketsNotLoaded
	}
	m, ok := c.markets[symbol]
	if !ok {
		return MarketInfo{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return m, nil
}

type tickerResp struct {
	LastPrice string `json:"lastPrice"`
	BidPrice  string `json:"bidPrice"`
	AskPrice  string `json:"askPrice"`
	HighPrice string `json:"highPrice"`
	LowPrice  string `json:"lowPrice"`
	Volume    string `json:"volume"`
}

// FetchTicker 获取24h行情快照
func (c *BinanceClient) FetchTicker(symbol string) (Ticker, error) {
	params := url.Values{}
	params.Set("symbol", pairID(symbol))
	body, err := c.get("/api/v3/ticker/24hr", params)
	if err != nil {
		return Ticker{}, fmt.Errorf("fetch ticker: %w", err)
	}
	var tr tickerResp
	if err := json.Unmarshal(body, &tr); err != nil {
		return Ticker{}, fmt.Errorf("parse ticker: %w", err)
	}
	return Ticker{
		Symbol: symbol,
		Last:   parseFloat(tr.LastPrice),
		Bid:    parseFloat(tr.BidPrice),
		Ask:    parseFloat(tr.AskPrice),
		High:   parseFloat(tr.HighPrice),
		Low:    parseFloat(tr.LowPrice),
		Volume: parseFloat(tr.Volume),
	}, nil
}

type accountResp struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

// FetchBalance 获取现货账户余额
func (c *BinanceClient) FetchBalance() (map[string]Balance, error) {
	body, err := c.signed(http.MethodGet, "/api/v3/account", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch balance: %w", err)
	}
	var acct accountResp
	if err := json.Unmarshal(body, &acct); err != nil {
		return nil, fmt.Errorf("parse account: %w", err)
	}
	out := make(map[string]Balance, len(acct.Balances))
	for _, b := range acct.Balances {
		free := parseFloat(b.Free)
		used := parseFloat(b.Locked)
		if free == 0 && used == 0 {
			continue
		}
		out[b.Asset] = Balance{Free: free, Used: used, Total: free + used}
	}
	return out, nil
}

// FetchOHLCV 获取K线，interval形如 1h / 1d
func (c *BinanceClient) FetchOHLCV(symbol, interval string, limit int) ([]market.Kline, error) {
	params := url.Values{}
	params.Set("symbol", pairID(symbol))
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))
	body, err := c.get("/api/v3/klines", params)
	if err != nil {
		return nil, fmt.Errorf("fetch ohlcv: %w", err)
	}
	var raw [][]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse klines: %w", err)
	}
	ks := make([]market.Kline, 0, len(raw))
	for _, r := range raw {
		if len(r) < 6 {
			continue
		}
		ts, _ := r[0].(float64)
		ks = append(ks, market.Kline{
			Ts:     int64(ts),
			Open:   anyFloat(r[1]),
			High:   anyFloat(r[2]),
			Low:    anyFloat(r[3]),
			Close:  anyFloat(r[4]),
			Volume: anyFloat(r[5]),
		})
	}
	return ks, nil
}

type orderResp struct {
	OrderID             int64  `json:"orderId"`
	Symbol              string `json:"symbol"`
	Side                string `json:"side"`
	OrigQty             string `json:"origQty"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Status              string `json:"status"`
}

// CreateMarketOrder 市价下单，amount为基础货币数量
func (c *BinanceClient) CreateMarketOrder(symbol, side string, amount float64) (Order, error) {
	params := map[string]string{
		"symbol":           pairID(symbol),
		"side":             strings.ToUpper(side),
		"type":             "MARKET",
		"quantity":         strconv.FormatFloat(amount, 'f', -1, 64),
		"newOrderRespType": "RESULT",
	}
	body, err := c.signed(http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return Order{}, fmt.Errorf("create order: %w", err)
	}
	var or orderResp
	if err := json.Unmarshal(body, &or); err != nil {
		return Order{}, fmt.Errorf("parse order: %w", err)
	}
	return c.toOrder(symbol, or), nil
}

func (c *BinanceClient) toOrder(symbol string, or orderResp) Order {
	filled := parseFloat(or.ExecutedQty)
	cost := parseFloat(or.CummulativeQuoteQty)
	o := Order{
		ID:     strconv.FormatInt(or.OrderID, 10),
		Symbol: symbol,
		Side:   strings.ToLower(or.Side),
		Amount: parseFloat(or.OrigQty),
		Filled: filled,
		Cost:   cost,
	}
	if filled > 0 {
		o.Price = cost / filled
	}
	switch or.Status {
	case "FILLED":
		o.Status = "closed"
	case "CANCELED", "REJECTED", "EXPIRED":
		o.Status = "canceled"
	default:
		o.Status = "open"
	}
	return o
}

// FetchOpenOrders 查询未完成订单
func (c *BinanceClient) FetchOpenOrders(symbol string) ([]Order, error) {
	params := map[string]string{"symbol": pairID(symbol)}
	body, err := c.signed(http.MethodGet, "/api/v3/openOrders", params)
	if err != nil {
		return nil, fmt.Errorf("fetch open orders: %w", err)
	}
	var raw []orderResp
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse open orders: %w", err)
	}
	out := make([]Order, 0, len(raw))
	for _, or := range raw {
		out = append(out, c.toOrder(symbol, or))
	}
	return out, nil
}

// CancelOrder 撤单
func (c *BinanceClient) CancelOrder(symbol, orderID string) error {
	params := map[string]string{
		"symbol":  pairID(symbol),
		"orderId": orderID,
	}
	if _, err := c.signed(http.MethodDelete, "/api/v3/order", params); err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	return nil
}

type myTradeResp struct {
	OrderID         int64  `json:"orderId"`
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	QuoteQty        string `json:"quoteQty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	IsBuyer         bool   `json:"isBuyer"`
	Time            int64  `json:"time"`
}

// FetchMyTrades 查询最近成交，用于启动时对账
func (c *BinanceClient) FetchMyTrades(symbol string, limit int) ([]Fill, error) {
	params := map[string]string{
		"symbol": pairID(symbol),
		"limit":  strconv.Itoa(limit),
	}
	body, err := c.signed(http.MethodGet, "/api/v3/myTrades", params)
	if err != nil {
		return nil, fmt.Errorf("fetch my trades: %w", err)
	}
	var raw []myTradeResp
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse my trades: %w", err)
	}
	out := make([]Fill, 0, len(raw))
	for _, tr := range raw {
		side := "sell"
		if tr.IsBuyer {
			side = "buy"
		}
		out = append(out, Fill{
			OrderID:   strconv.FormatInt(tr.OrderID, 10),
			Symbol:    symbol,
			Side:      side,
			Price:     parseFloat(tr.Price),
			Amount:    parseFloat(tr.Qty),
			Cost:      parseFloat(tr.QuoteQty),
			Fee:       parseFloat(tr.Commission),
			FeeAsset:  tr.CommissionAsset,
			Timestamp: tr.Time,
		})
	}
	return out, nil
}

// TransferFromEarn 从活期理财赎回到现货账户
func (c *BinanceClient) TransferFromEarn(asset string, amount float64) error {
	params := map[string]string{
		"productId": asset + "001", // 活期理财产品ID约定
		"amount":    strconv.FormatFloat(amount, 'f', -1, 64),
	}
	if _, err := c.signed(http.MethodPost, "/sapi/v1/simple-earn/flexible/redeem", params); err != nil {
		return fmt.Errorf("redeem from earn: %w", err)
	}
	return nil
}

// Close 关闭客户端（REST无长连接，预留接口）
func (c *BinanceClient) Close() error {
	return nil
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func anyFloat(v interface{}) float64 {
	switch x := v.(type) {
	case string:
		return parseFloat(x)
	case float64:
		return x
	default:
		return 0
	}
}
