package trader

import "grid-trader-go/config"

// IntentKind 仪表盘/配置监听器下发的指令类型
type IntentKind int

const (
	// IntentUpdateParams 热更新交易参数
	IntentUpdateParams IntentKind = iota
	// IntentSwitchSymbol 切换交易对
	IntentSwitchSymbol
	// IntentReinitialize 重算基准价并重建网格
	IntentReinitialize
	// IntentReloadConfig 配置文件重载
	IntentReloadConfig
)

func (k IntentKind) String() string {
	switch k {
	case IntentUpdateParams:
		return "update_params"
	case IntentSwitchSymbol:
		return "switch_symbol"
	case IntentReinitialize:
		return "reinitialize"
	case IntentReloadConfig:
		return "reload_config"
	default:
		return "unknown"
	}
}

// Intent 延迟执行的控制指令。仪表盘与配置监听器只入队，
// 主循环在tick边界统一消费，策略状态始终单写者。
type Intent struct {
	Kind   IntentKind
	Params *config.TradingParams // IntentUpdateParams
	Symbol string                // IntentSwitchSymbol
	Config *config.AppConfig     // IntentReloadConfig
}
