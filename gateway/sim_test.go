package gateway

import (
	"errors"
	"math"
	"testing"
	"time"
)

func newTestSim(t *testing.T, price float64) (*SimClient, *StaticFeed) {
	t.Helper()
	feed := NewStaticFeed(price, nil)
	sim := NewSimClient([]string{"BNB/USDT"}, map[string]float64{
		"BNB":  1.0,
		"USDT": 1000,
	}, 0.001, feed)
	if err := sim.LoadMarkets(); err != nil {
		t.Fatalf("LoadMarkets: %v", err)
	}
	return sim, feed
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSimBuyAppliesFeeInBase(t *testing.T) {
	sim, _ := newTestSim(t, 600)

	o, err := sim.CreateMarketOrder("BNB/USDT", "buy", 0.1)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if o.Status != "closed" || o.Price != 600 {
		t.Errorf("order = %+v", o)
	}

	bals, _ := sim.FetchBalance()
	// 买入0.1 BNB花费60 USDT，手续费0.0001 BNB
	if !approx(bals["USDT"].Free, 940) {
		t.Errorf("USDT = %v, want 940", bals["USDT"].Free)
	}
	if !approx(bals["BNB"].Free, 1.0+0.1*0.999) {
		t.Errorf("BNB = %v", bals["BNB"].Free)
	}
}

func TestSimSellAppliesFeeInQuote(t *testing.T) {
	sim, _ := newTestSim(t, 600)

	if _, err := sim.CreateMarketOrder("BNB/USDT", "sell", 0.5); err != nil {
		t.Fatalf("sell: %v", err)
	}

	bals, _ := sim.FetchBalance()
	if !approx(bals["BNB"].Free, 0.5) {
		t.Errorf("BNB = %v, want 0.5", bals["BNB"].Free)
	}
	// 卖出0.5 BNB得300 USDT，手续费0.3 USDT
	if !approx(bals["USDT"].Free, 1000+300*0.999) {
		t.Errorf("USDT = %v", bals["USDT"].Free)
	}
}

func TestSimInsufficientFunds(t *testing.T) {
	sim, _ := newTestSim(t, 600)

	if _, err := sim.CreateMarketOrder("BNB/USDT", "buy", 10); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("buy beyond balance: err = %v", err)
	}
	if _, err := sim.CreateMarketOrder("BNB/USDT", "sell", 5); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("sell beyond balance: err = %v", err)
	}
}

func TestSimFillsRecorded(t *testing.T) {
	sim, feed := newTestSim(t, 600)
	now := int64(1700000000000)
	sim.SetNowFunc(func() int64 { return now })

	sim.CreateMarketOrder("BNB/USDT", "buy", 0.1)
	feed.SetPrice(620)
	now += 60000
	sim.CreateMarketOrder("BNB/USDT", "sell", 0.1)

	fills, err := sim.FetchMyTrades("BNB/USDT", 10)
	if err != nil {
		t.Fatalf("FetchMyTrades: %v", err)
	}
	if len(fills) != 2 {
		t.Fatalf("got %d fills", len(fills))
	}
	if fills[0].Price != 600 || fills[1].Price != 620 {
		t.Errorf("fill prices = %v/%v", fills[0].Price, fills[1].Price)
	}
	if fills[0].OrderID == fills[1].OrderID {
		t.Error("order ids should be unique")
	}
	if fills[1].Timestamp != 1700000060000 {
		t.Errorf("timestamp = %d", fills[1].Timestamp)
	}
}

func TestSimTransferFromEarn(t *testing.T) {
	sim, _ := newTestSim(t, 600)
	sim.SetEarnBalance("USDT", 500)

	if err := sim.TransferFromEarn("USDT", 200); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	bals, _ := sim.FetchBalance()
	if !approx(bals["USDT"].Free, 1200) {
		t.Errorf("USDT = %v, want 1200", bals["USDT"].Free)
	}

	// 赎回金额超过理财余额时赎回全部
	if err := sim.TransferFromEarn("USDT", 9999); err != nil {
		t.Fatalf("transfer all: %v", err)
	}
	bals, _ = sim.FetchBalance()
	if !approx(bals["USDT"].Free, 1500) {
		t.Errorf("USDT = %v, want 1500", bals["USDT"].Free)
	}

	// 理财余额耗尽后报错
	if err := sim.TransferFromEarn("USDT", 1); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("empty earn: err = %v", err)
	}
}

func TestSimNoOpenOrders(t *testing.T) {
	sim, _ := newTestSim(t, 600)

	orders, err := sim.FetchOpenOrders("BNB/USDT")
	if err != nil {
		t.Fatalf("FetchOpenOrders: %v", err)
	}
	if len(orders) != 0 {
		t.Errorf("expected no open orders, got %d", len(orders))
	}
	if err := sim.CancelOrder("BNB/USDT", "any"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("cancel: err = %v", err)
	}
}

func TestSimSynthesizesPricesWithoutFeed(t *testing.T) {
	sim := NewSimClient([]string{"BNB/USDT"}, map[string]float64{"USDT": 1000}, 0.001, nil)
	if err := sim.LoadMarkets(); err != nil {
		t.Fatalf("LoadMarkets: %v", err)
	}

	tk, err := sim.FetchTicker("BNB/USDT")
	if err != nil {
		t.Fatalf("FetchTicker: %v", err)
	}
	// 游走价从备用价600出发，单步不超过0.1%
	if tk.Last < 599 || tk.Last > 601 {
		t.Errorf("first walk price = %v, want near 600", tk.Last)
	}
	if tk.Bid >= tk.Last || tk.Ask <= tk.Last {
		t.Errorf("spread = %v/%v around %v", tk.Bid, tk.Ask, tk.Last)
	}

	prev := tk.Last
	for i := 0; i < 10; i++ {
		tk, err = sim.FetchTicker("BNB/USDT")
		if err != nil {
			t.Fatalf("FetchTicker: %v", err)
		}
		if math.Abs(tk.Last/prev-1) > walkStep {
			t.Errorf("step %d moved %v -> %v, beyond max step", i, prev, tk.Last)
		}
		prev = tk.Last
	}

	// 下单照常按游走价成交
	if _, err := sim.CreateMarketOrder("BNB/USDT", "buy", 0.1); err != nil {
		t.Fatalf("buy without feed: %v", err)
	}
}

func TestSimSynthesizesKlinesWithoutFeed(t *testing.T) {
	sim := NewSimClient([]string{"ETH/USDT"}, nil, 0.001, nil)
	sim.SetNowFunc(func() int64 { return 1700000000000 })

	ks, err := sim.FetchOHLCV("ETH/USDT", "1h", 24)
	if err != nil {
		t.Fatalf("FetchOHLCV: %v", err)
	}
	if len(ks) != 24 {
		t.Fatalf("klines = %d, want 24", len(ks))
	}
	for i, k := range ks {
		if k.Open <= 0 || k.Close <= 0 || k.High < math.Max(k.Open, k.Close) || k.Low > math.Min(k.Open, k.Close) {
			t.Errorf("candle %d malformed: %+v", i, k)
		}
		if i > 0 && k.Ts != ks[i-1].Ts+3600_000 {
			t.Errorf("candle %d ts = %d, not hourly after %d", i, k.Ts, ks[i-1].Ts)
		}
	}
	if ks[23].Ts != 1700000000000-3600_000 {
		t.Errorf("last candle ts = %d", ks[23].Ts)
	}

	if _, err := sim.FetchOHLCV("ETH/USDT", "sideways", 5); err == nil {
		t.Error("bad interval should error")
	}
}

func TestSimFillTimestampDefaultsToWallClock(t *testing.T) {
	sim, _ := newTestSim(t, 600)

	before := time.Now().UnixMilli()
	if _, err := sim.CreateMarketOrder("BNB/USDT", "buy", 0.1); err != nil {
		t.Fatalf("buy: %v", err)
	}
	fills, err := sim.FetchMyTrades("BNB/USDT", 10)
	if err != nil {
		t.Fatalf("FetchMyTrades: %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("fills = %d", len(fills))
	}
	if fills[0].Timestamp < before {
		t.Errorf("timestamp = %d, want wall clock without SetNowFunc", fills[0].Timestamp)
	}
}
