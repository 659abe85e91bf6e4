// Package web 提供仪表盘HTTP接口：状态快照只读，
// 所有变更命令入队为intent，由主循环在tick边界消费。
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"grid-trader-go/config"
	"grid-trader-go/gateway"
	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/internal/trader"
)

const defaultPushInterval = 2 * time.Second

// Server 仪表盘服务
type Server struct {
	trader *trader.Trader
	sim    *gateway.SimClient // 实盘为nil，模拟盘管理接口返回404
	log    *logger.Logger
	push   time.Duration
	srv    *http.Server
}

// New 创建仪表盘服务
func New(t *trader.Trader, sim *gateway.SimClient, log *logger.Logger) *Server {
	return &Server{trader: t, sim: sim, log: log, push: defaultPushInterval}
}

// Handler 返回路由表（测试直接挂到httptest）
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/params", s.handleParams)
	mux.HandleFunc("/api/symbol", s.handleSymbol)
	mux.HandleFunc("/api/reinitialize", s.handleReinitialize)
	mux.HandleFunc("/api/trades", s.handleTrades)
	mux.HandleFunc("/api/sim/balances", s.handleSimBalances)
	mux.HandleFunc("/api/sim/reset", s.handleSimReset)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Start 非阻塞启动，ctx取消时优雅关闭
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.srv = &http.Server{Addr: addr, Handler: s.Handler()}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if s.log != nil {
				s.log.LogError(err, map[string]interface{}{"op": "web_serve"})
			}
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	writeJSON(w, http.StatusOK, s.trader.Status())
}

// handleParams GET返回当前参数；POST接受部分字段（字段名同配置文件），
// 以当前值为底解码，未知字段与越界值拒绝，合法则入队热更新。
func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.trader.Params())
	case http.MethodPost:
		cur := s.trader.Params()
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cur); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("decode params: %v", err))
			return
		}
		if err := trader.ValidateParams(cur); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if !s.trader.Queue(trader.Intent{Kind: trader.IntentUpdateParams, Params: &cur}) {
			writeError(w, http.StatusServiceUnavailable, "intent queue full")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]interface{}{"queued": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "GET or POST only")
	}
}

func (s *Server) handleSymbol(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	var req struct {
		Symbol string `json:"symbol"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
		return
	}
	if _, _, err := config.SplitSymbol(req.Symbol); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.trader.Queue(trader.Intent{Kind: trader.IntentSwitchSymbol, Symbol: req.Symbol}) {
		writeError(w, http.StatusServiceUnavailable, "intent queue full")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"queued": true, "symbol": req.Symbol})
}

func (s *Server) handleReinitialize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	if !s.trader.Queue(trader.Intent{Kind: trader.IntentReinitialize}) {
		writeError(w, http.StatusServiceUnavailable, "intent queue full")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"queued": true})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	st := s.trader.Status()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"trades":     st.Recent,
		"statistics": st.Stats,
	})
}

func (s *Server) handleSimBalances(w http.ResponseWriter, r *http.Request) {
	if s.sim == nil {
		writeError(w, http.StatusNotFound, "not in simulation mode")
		return
	}
	switch r.Method {
	case http.MethodGet:
		balances, err := s.sim.FetchBalance()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, balances)
	case http.MethodPost:
		var req struct {
			Asset string  `json:"asset"`
			Free  float64 `json:"free"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
			return
		}
		if req.Asset == "" || req.Free < 0 {
			writeError(w, http.StatusBadRequest, "asset required, free must be >= 0")
			return
		}
		s.sim.SetBalance(req.Asset, req.Free)
		writeJSON(w, http.StatusOK, map[string]interface{}{"updated": req.Asset})
	default:
		writeError(w, http.StatusMethodNotAllowed, "GET or POST only")
	}
}

func (s *Server) handleSimReset(w http.ResponseWriter, r *http.Request) {
	if s.sim == nil {
		writeError(w, http.StatusNotFound, "not in simulation mode")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	var req struct {
		Balances map[string]float64 `json:"balances"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
		return
	}
	if len(req.Balances) == 0 {
		writeError(w, http.StatusBadRequest, "balances required")
		return
	}
	s.sim.ResetBalances(req.Balances)
	writeJSON(w, http.StatusOK, map[string]interface{}{"reset": true})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
