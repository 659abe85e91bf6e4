// 紧急撤单工具：撤掉指定交易对的全部挂单并打印账户余额。
// 密钥从环境变量读取：GRID_GATEWAY_API_KEY / GRID_GATEWAY_API_SECRET。
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"grid-trader-go/gateway"
)

func main() {
	symbol := flag.String("symbol", "BNB/USDT", "交易对")
	baseURL := flag.String("baseURL", "https://api.binance.com", "交易所REST地址")
	flag.Parse()

	apiKey := os.Getenv("GRID_GATEWAY_API_KEY")
	apiSecret := os.Getenv("GRID_GATEWAY_API_SECRET")
	if apiKey == "" || apiSecret == "" {
		log.Fatal("需要 GRID_GATEWAY_API_KEY 和 GRID_GATEWAY_API_SECRET")
	}

	client := gateway.NewBinanceClient(*baseURL, apiKey, apiSecret,
		&http.Client{Timeout: 10 * time.Second},
		gateway.NewTokenBucketLimiter(5, 10))

	if err := client.LoadMarkets(); err != nil {
		log.Fatalf("加载市场失败: %v", err)
	}

	orders, err := client.FetchOpenOrders(*symbol)
	if err != nil {
		log.Fatalf("查询挂单失败: %v", err)
	}
	if len(orders) == 0 {
		fmt.Println("没有挂单")
	}
	for _, o := range orders {
		if err := client.CancelOrder(*symbol, o.ID); err != nil {
			log.Printf("撤单 %s 失败: %v", o.ID, err)
			continue
		}
		fmt.Printf("已撤单 %s  %s %s %.6f @ %.4f\n", o.ID, o.Symbol, o.Side, o.Amount, o.Price)
	}

	balances, err := client.FetchBalance()
	if err != nil {
		log.Fatalf("查询余额失败: %v", err)
	}
	fmt.Println("\n当前余额:")
	for asset, b := range balances {
		fmt.Printf("  %-6s free %.8f  used %.8f\n", asset, b.Free, b.Used)
	}
}
