package ledger

import "math"

// Stats 台账统计摘要；胜负只统计卖单（买单利润恒为0）
type Stats struct {
	TotalTrades   int     `json:"total_trades"`
	BuyCount      int     `json:"buy_count"`
	SellCount     int     `json:"sell_count"`
	TotalProfit   float64 `json:"total_profit"`
	TotalFees     float64 `json:"total_fees"`
	WinRate       float64 `json:"win_rate"`
	ProfitFactor  float64 `json:"profit_factor"`
	MaxWinStreak  int     `json:"max_win_streak"`
	MaxLossStreak int     `json:"max_loss_streak"`
	AvgProfit     float64 `json:"avg_profit"`
	MaxProfit     float64 `json:"max_profit"`
	MinProfit     float64 `json:"min_profit"`
}

// Statistics 汇总内存中的记录
func (l *Ledger) Statistics() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	var s Stats
	var grossWin, grossLoss float64
	var wins int
	var winStreak, lossStreak int

	for _, r := range l.records {
		s.TotalTrades++
		s.TotalFees += r.Fee
		switch r.Side {
		case "buy":
			s.BuyCount++
			continue
		case "sell":
			s.SellCount++
		}

		s.TotalProfit += r.Profit
		if s.SellCount == 1 || r.Profit > s.MaxProfit {
			s.MaxProfit = r.Profit
		}
		if s.SellCount == 1 || r.Profit < s.MinProfit {
			s.MinProfit = r.Profit
		}
		if r.Profit > 0 {
			wins++
			grossWin += r.Profit
			winStreak++
			lossStreak = 0
			if winStreak > s.MaxWinStreak {
				s.MaxWinStreak = winStreak
			}
		} else if r.Profit < 0 {
			grossLoss += -r.Profit
			lossStreak++
			winStreak = 0
			if lossStreak > s.MaxLossStreak {
				s.MaxLossStreak = lossStreak
			}
		} else {
			// 零利润中断连胜连败
			winStreak = 0
			lossStreak = 0
		}
	}

	if s.SellCount > 0 {
		s.WinRate = float64(wins) / float64(s.SellCount)
		s.AvgProfit = s.TotalProfit / float64(s.SellCount)
	}
	switch {
	case grossLoss > 0:
		s.ProfitFactor = grossWin / grossLoss
	case grossWin > 0:
		s.ProfitFactor = math.Inf(1)
	}
	return s
}
