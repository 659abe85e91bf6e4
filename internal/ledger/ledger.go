package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const (
	liveFileName    = "trades.json"
	backupSuffix    = ".bak"
	archivePrefix   = "trades_archive_"
	maxLiveRecords  = 1000
	archiveBatch    = 500
	archiveRetained = 12
	recentCap       = 100
)

// lot FIFO配对用的未平仓买入批次
type lot struct {
	amount float64
	price  float64
}

// Ledger 成交台账。内存中最多保留maxLiveRecords条，
// 超出后最老的archiveBatch条归档到独立文件。
type Ledger struct {
	mu      sync.Mutex
	dir     string
	records []Record
	seen    map[string]bool
	lots    []lot
}

// Open 打开（或新建）台账，加载已有记录并重放买入批次
func Open(dir string) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	l := &Ledger{
		dir:  dir,
		seen: make(map[string]bool),
	}
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) load() error {
	raw, err := os.ReadFile(l.livePath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}
	var records []Record
	if err := json.Unmarshal(raw, &records); err != nil {
		// 主文件损坏时回退到备份
		if backup, berr := os.ReadFile(l.livePath() + backupSuffix); berr == nil {
			if json.Unmarshal(backup, &records) == nil {
				return l.replay(records)
			}
		}
		return fmt.Errorf("parse ledger: %w", err)
	}
	return l.replay(records)
}

func (l *Ledger) replay(records []Record) error {
	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp < records[j].Timestamp
	})
	for _, r := range records {
		if r.Validate() != nil || l.seen[r.OrderID] {
			continue
		}
		l.seen[r.OrderID] = true
		l.records = append(l.records, r)
		l.applyLots(r)
	}
	return nil
}

func (l *Ledger) livePath() string {
	return filepath.Join(l.dir, liveFileName)
}

// Add 记录一笔成交。按order_id幂等；卖单利润由FIFO配对计算后写入返回的记录。
func (l *Ledger) Add(r Record) (Record, error) {
	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.seen[r.OrderID] {
		return Record{}, fmt.Errorf("%w: %s", ErrDuplicate, r.OrderID)
	}
	if r.Cost == 0 {
		r.Cost = r.Price * r.Amount
	}
	r.Profit = l.matchProfit(r)
	l.applyLots(r)

	l.seen[r.OrderID] = true
	l.records = append(l.records, r)

	if len(l.records) > maxLiveRecords {
		if err := l.archiveOldest(); err != nil {
			return Record{}, err
		}
	}
	if err := l.persist(); err != nil {
		return Record{}, err
	}
	return r, nil
}

// matchProfit 卖单按FIFO消耗买入批次，利润=卖出所得-消耗成本-手续费。
// 买单利润恒为0。无批次可配对的部分按卖价计成本，利润为0。
func (l *Ledger) matchProfit(r Record) float64 {
	if r.Side != "sell" {
		return 0
	}
	remaining := r.Amount
	cost := 0.0
	for _, lt := range l.lots {
		if remaining <= 0 {
			break
		}
		take := lt.amount
		if take > remaining {
			take = remaining
		}
		cost += take * lt.price
		remaining -= take
	}
	if remaining > 0 {
		cost += remaining * r.Price
	}
	return r.Cost - cost - r.Fee
}

func (l *Ledger) applyLots(r Record) {
	if r.Side == "buy" {
		l.lots = append(l.lots, lot{amount: r.Amount, price: r.Price})
		return
	}
	remaining := r.Amount
	for remaining > 0 && len(l.lots) > 0 {
		if l.lots[0].amount > remaining {
			l.lots[0].amount -= remaining
			return
		}
		remaining -= l.lots[0].amount
		l.lots = l.lots[1:]
	}
}

// Has 是否已记录该订单
func (l *Ledger) Has(orderID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seen[orderID]
}

// Len 内存中的记录数
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Recent 返回最近的记录（最多recentCap条），新的在前
func (l *Ledger) Recent() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.records)
	if n > recentCap {
		n = recentCap
	}
	out := make([]Record, n)
	for i := 0; i < n; i++ {
		out[i] = l.records[len(l.records)-1-i]
	}
	return out
}

// All 返回内存中全部记录的副本，按时间升序
func (l *Ledger) All() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// OpenLots 当前未平仓的买入数量
func (l *Ledger) OpenLots() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0.0
	for _, lt := range l.lots {
		total += lt.amount
	}
	return total
}

// persist 先备份再原子替换：旧文件copy到.bak，新内容写临时文件后rename
func (l *Ledger) persist() error {
	path := l.livePath()

	if old, err := os.ReadFile(path); err == nil {
		if err := os.WriteFile(path+backupSuffix, old, 0o644); err != nil {
			return fmt.Errorf("write ledger backup: %w", err)
		}
	}

	data, err := json.MarshalIndent(l.records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write ledger tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}

// archiveOldest 归档最老的一批记录，并按保留数清理旧归档
func (l *Ledger) archiveOldest() error {
	batch := l.records[:archiveBatch]
	name := fmt.Sprintf("%s%d.json", archivePrefix, batch[len(batch)-1].Timestamp)
	data, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal archive: %w", err)
	}
	if err := os.WriteFile(filepath.Join(l.dir, name), data, 0o644); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	l.records = append([]Record(nil), l.records[archiveBatch:]...)
	return l.pruneArchives()
}

func (l *Ledger) pruneArchives() error {
	matches, err := filepath.Glob(filepath.Join(l.dir, archivePrefix+"*.json"))
	if err != nil {
		return err
	}
	if len(matches) <= archiveRetained {
		return nil
	}
	sort.Strings(matches)
	for _, old := range matches[:len(matches)-archiveRetained] {
		if err := os.Remove(old); err != nil {
			return fmt.Errorf("prune archive: %w", err)
		}
	}
	return nil
}
