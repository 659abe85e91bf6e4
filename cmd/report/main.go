// 台账报表工具：离线读取数据目录，打印统计并可导出CSV/JSON。
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"grid-trader-go/internal/ledger"
)

func main() {
	dataDir := flag.String("data", "data", "数据目录")
	symbol := flag.String("symbol", "", "仅统计指定交易对（默认全量）")
	csvPath := flag.String("csv", "", "导出CSV到指定路径")
	jsonPath := flag.String("json", "", "导出JSON到指定路径")
	tail := flag.Int("tail", 10, "打印最近N笔成交")
	flag.Parse()

	book, err := ledger.Open(*dataDir)
	if err != nil {
		log.Fatalf("打开台账失败: %v", err)
	}

	records := book.All()
	if *symbol != "" {
		filtered := records[:0]
		for _, r := range records {
			if r.Symbol == *symbol {
				filtered = append(filtered, r)
			}
		}
		records = filtered
	}
	if len(records) == 0 {
		fmt.Println("台账为空")
		return
	}

	stats := book.Statistics()
	fmt.Printf("成交笔数:   %d (买 %d / 卖 %d)\n", stats.TotalTrades, stats.BuyCount, stats.SellCount)
	fmt.Printf("累计利润:   %.4f\n", stats.TotalProfit)
	fmt.Printf("累计手续费: %.4f\n", stats.TotalFees)
	fmt.Printf("胜率:       %.2f%%\n", stats.WinRate*100)
	fmt.Printf("盈亏比:     %.2f\n", stats.ProfitFactor)
	fmt.Printf("最大连胜:   %d  最大连亏: %d\n", stats.MaxWinStreak, stats.MaxLossStreak)
	fmt.Printf("平均利润:   %.4f\n", stats.AvgProfit)

	if *tail > 0 {
		fmt.Printf("\n最近成交:\n")
		recent := book.Recent()
		if len(recent) > *tail {
			recent = recent[:*tail]
		}
		for _, r := range recent {
			ts := time.UnixMilli(r.Timestamp).UTC().Format("2006-01-02 15:04:05")
			fmt.Printf("  %s  %-10s %-4s %10.4f x %8.4f  profit %+.4f  [%s]\n",
				ts, r.Symbol, r.Side, r.Price, r.Amount, r.Profit, r.Source)
		}
	}

	if *csvPath != "" {
		export(*csvPath, func(f *os.File) error { return book.ExportCSV(f) })
		fmt.Printf("\nCSV已导出: %s\n", *csvPath)
	}
	if *jsonPath != "" {
		export(*jsonPath, func(f *os.File) error { return book.ExportJSON(f) })
		fmt.Printf("JSON已导出: %s\n", *jsonPath)
	}
}

func export(path string, write func(*os.File) error) {
	f, err := os.Create(path)
	if err != nil {
		log.Fatalf("创建导出文件失败: %v", err)
	}
	defer f.Close()
	if err := write(f); err != nil {
		log.Fatalf("导出失败: %v", err)
	}
}
