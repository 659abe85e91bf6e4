package gateway

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"grid-trader-go/market"
)

// PriceFeed 为模拟盘提供行情数据；BinanceClient天然满足该接口，
// 可以用真实行情跑模拟账户。
type PriceFeed interface {
	FetchTicker(symbol string) (Ticker, error)
	FetchOHLCV(symbol, interval string, limit int) ([]market.Kline, error)
}

// SimClient 模拟交易所：真实行情（或脚本行情）+ 本地账本。
// 市价单按最新价立即全部成交。
type SimClient struct {
	feed    PriceFeed
	feeRate float64

	mu       sync.Mutex
	symbols  []string
	markets  map[string]MarketInfo
	balances map[string]*Balance
	earn     map[string]float64
	fills    []Fill
	orderSeq int64
	nowMs    func() int64
	walk     map[string]float64
	rng      *rand.Rand
}

// NewSimClient 创建模拟盘。initialBalances按资产给出初始可用余额。
func NewSimClient(symbols []string, initialBalances map[string]float64, feeRate float64, feed PriceFeed) *SimClient {
	balances := make(map[string]*Balance, len(initialBalances))
	for asset, free := range initialBalances {
		balances[asset] = &Balance{Free: free, Total: free}
	}
	return &SimClient{
		feed:     feed,
		feeRate:  feeRate,
		symbols:  symbols,
		markets:  make(map[string]MarketInfo),
		balances: balances,
		earn:     make(map[string]float64),
		nowMs:    func() int64 { return time.Now().UnixMilli() },
		walk:     make(map[string]float64),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetNowFunc 注入毫秒时间源（测试用）。默认用系统时钟。
func (s *SimClient) SetNowFunc(nowMs func() int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowMs = nowMs
}

// SetEarnBalance 设置理财账户余额
func (s *SimClient) SetEarnBalance(asset string, amount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.earn[asset] = amount
}

// LoadMarkets 为配置的交易对生成默认约束
func (s *SimClient) LoadMarkets() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range s.symbols {
		base, quote, err := splitPair(sym)
		if err != nil {
			return err
		}
		s.markets[sym] = MarketInfo{
			Symbol:      sym,
			Base:        base,
			Quote:       quote,
			StepSize:    0.001,
			MinQty:      0.001,
			MinNotional: 5,
		}
	}
	return nil
}

func splitPair(symbol string) (string, string, error) {
	for i := 0; i < len(symbol); i++ {
		if symbol[i] == '/' {
			if i == 0 || i == len(symbol)-1 {
				break
			}
			return symbol[:i], symbol[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
}

// Market 返回交易对元数据
func (s *SimClient) Market(symbol string) (MarketInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.markets) == 0 {
		return MarketInfo{}, ErrMarketsNotLoaded
	}
	m, ok := s.markets[symbol]
	if !ok {
		return MarketInfo{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return m, nil
}

// FetchTicker 透传行情源；无行情源时用备用价格随机游走
func (s *SimClient) FetchTicker(symbol string) (Ticker, error) {
	if s.feed != nil {
		return s.feed.FetchTicker(symbol)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.stepWalk(symbol)
	return Ticker{
		Symbol: symbol,
		Last:   p,
		Bid:    p * 0.999,
		Ask:    p * 1.001,
		High:   p * 1.05,
		Low:    p * 0.95,
	}, nil
}

// FetchOHLCV 透传行情源；无行情源时合成随机游走K线
func (s *SimClient) FetchOHLCV(symbol, interval string, limit int) ([]market.Kline, error) {
	if s.feed != nil {
		return s.feed.FetchOHLCV(symbol, interval, limit)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	stepMs, err := intervalMillis(interval)
	if err != nil {
		return nil, err
	}
	now := s.nowMs()
	p := s.walkPrice(symbol)
	ks := make([]market.Kline, limit)
	// 从当前价倒推生成,最后一根对齐最新游走价
	for i := limit - 1; i >= 0; i-- {
		open := p / (1 + (s.rng.Float64()-0.5)*walkStep*2)
		high := math.Max(open, p) * (1 + s.rng.Float64()*walkStep)
		low := math.Min(open, p) * (1 - s.rng.Float64()*walkStep)
		ks[i] = market.Kline{
			Open:   open,
			High:   high,
			Low:    low,
			Close:  p,
			Volume: 1,
			Ts:     now - int64(limit-i)*stepMs,
		}
		p = open
	}
	return ks, nil
}

// walkStep 单步最大相对波动
const walkStep = 0.001

// fallbackPrices 无行情源时的起始价,参照常见现货价位
var fallbackPrices = map[string]float64{
	"BNB/USDT": 600,
	"ETH/USDT": 3000,
	"BTC/USDT": 60000,
}

// walkPrice 返回当前游走价,首次访问用备用价初始化。调用方需持锁。
func (s *SimClient) walkPrice(symbol string) float64 {
	p, ok := s.walk[symbol]
	if !ok {
		p = fallbackPrices[symbol]
		if p <= 0 {
			p = 100
		}
		s.walk[symbol] = p
	}
	return p
}

// stepWalk 让游走价前进一步。调用方需持锁。
func (s *SimClient) stepWalk(symbol string) float64 {
	p := s.walkPrice(symbol)
	p *= 1 + (s.rng.Float64()-0.5)*walkStep*2
	s.walk[symbol] = p
	return p
}

func intervalMillis(interval string) (int64, error) {
	if len(interval) < 2 {
		return 0, fmt.Errorf("bad interval: %q", interval)
	}
	n, err := strconv.ParseInt(interval[:len(interval)-1], 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("bad interval: %q", interval)
	}
	var unit int64
	switch interval[len(interval)-1] {
	case 'm':
		unit = 60_000
	case 'h':
		unit = 3_600_000
	case 'd':
		unit = 86_400_000
	default:
		return 0, fmt.Errorf("bad interval: %q", interval)
	}
	return n * unit, nil
}

// FetchBalance 返回模拟账户余额快照
func (s *SimClient) FetchBalance() (map[string]Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Balance, len(s.balances))
	for asset, b := range s.balances {
		out[asset] = *b
	}
	return out, nil
}

func (s *SimClient) balance(asset string) *Balance {
	b, ok := s.balances[asset]
	if !ok {
		b = &Balance{}
		s.balances[asset] = b
	}
	return b
}

// CreateMarketOrder 按最新价立即成交；买单手续费从基础货币扣，卖单从计价货币扣
func (s *SimClient) CreateMarketOrder(symbol, side string, amount float64) (Order, error) {
	if amount <= 0 {
		return Order{}, fmt.Errorf("invalid amount %v", amount)
	}
	ticker, err := s.FetchTicker(symbol)
	if err != nil {
		return Order{}, fmt.Errorf("sim fill price: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[symbol]
	if !ok {
		return Order{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}

	price := ticker.Last
	cost := amount * price
	baseBal := s.balance(m.Base)
	quoteBal := s.balance(m.Quote)
	var fee float64
	var feeAsset string

	switch side {
	case "buy":
		if quoteBal.Free < cost {
			return Order{}, fmt.Errorf("%w: need %.8f %s, have %.8f", ErrInsufficientFunds, cost, m.Quote, quoteBal.Free)
		}
		fee = amount * s.feeRate
		feeAsset = m.Base
		quoteBal.Free -= cost
		quoteBal.Total -= cost
		baseBal.Free += amount - fee
		baseBal.Total += amount - fee
	case "sell":
		if baseBal.Free < amount {
			return Order{}, fmt.Errorf("%w: need %.8f %s, have %.8f", ErrInsufficientFunds, amount, m.Base, baseBal.Free)
		}
		fee = cost * s.feeRate
		feeAsset = m.Quote
		baseBal.Free -= amount
		baseBal.Total -= amount
		quoteBal.Free += cost - fee
		quoteBal.Total += cost - fee
	default:
		return Order{}, fmt.Errorf("invalid side %q", side)
	}

	s.orderSeq++
	id := "sim-" + strconv.FormatInt(s.orderSeq, 10)
	s.fills = append(s.fills, Fill{
		OrderID:   id,
		Symbol:    symbol,
		Side:      side,
		Price:     price,
		Amount:    amount,
		Cost:      cost,
		Fee:       fee,
		FeeAsset:  feeAsset,
		Timestamp: s.nowMs(),
	})

	return Order{
		ID:     id,
		Symbol: symbol,
		Side:   side,
		Amount: amount,
		Filled: amount,
		Price:  price,
		Cost:   cost,
		Status: "closed",
	}, nil
}

// FetchOpenOrders 市价单即时成交，模拟盘不存在挂单
func (s *SimClient) FetchOpenOrders(symbol string) ([]Order, error) {
	return nil, nil
}

// CancelOrder 模拟盘没有挂单可撤
func (s *SimClient) CancelOrder(symbol, orderID string) error {
	return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
}

// FetchMyTrades 返回最近成交
func (s *SimClient) FetchMyTrades(symbol string, limit int) ([]Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Fill
	for _, f := range s.fills {
		if f.Symbol == symbol {
			out = append(out, f)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// TransferFromEarn 从模拟理财账户赎回
func (s *SimClient) TransferFromEarn(asset string, amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	avail := s.earn[asset]
	if avail <= 0 {
		return fmt.Errorf("%w: no earn balance for %s", ErrInsufficientFunds, asset)
	}
	if amount > avail {
		amount = avail
	}
	s.earn[asset] -= amount
	b := s.balance(asset)
	b.Free += amount
	b.Total += amount
	return nil
}

// SetBalance 直接设置某资产的可用余额（模拟盘管理接口）
func (s *SimClient) SetBalance(asset string, free float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.balance(asset)
	b.Free = free
	b.Total = free + b.Used
}

// ResetBalances 清空账本并重设初始余额
func (s *SimClient) ResetBalances(initial map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances = make(map[string]*Balance, len(initial))
	for asset, free := range initial {
		s.balances[asset] = &Balance{Free: free, Total: free}
	}
	s.fills = nil
}

// Close 关闭模拟盘
func (s *SimClient) Close() error {
	return nil
}

// StaticFeed 固定行情源（测试用）
type StaticFeed struct {
	mu     sync.Mutex
	price  float64
	klines []market.Kline
}

// NewStaticFeed 创建固定行情源
func NewStaticFeed(price float64, klines []market.Kline) *StaticFeed {
	return &StaticFeed{price: price, klines: klines}
}

// SetPrice 更新最新价
func (f *StaticFeed) SetPrice(price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = price
}

// FetchTicker 返回固定价
func (f *StaticFeed) FetchTicker(symbol string) (Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Ticker{Symbol: symbol, Last: f.price, Bid: f.price, Ask: f.price}, nil
}

// FetchOHLCV 返回预设K线
func (f *StaticFeed) FetchOHLCV(symbol, interval string, limit int) ([]market.Kline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ks := f.klines
	if limit > 0 && len(ks) > limit {
		ks = ks[len(ks)-limit:]
	}
	return ks, nil
}
