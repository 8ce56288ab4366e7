package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"pullback/internal/signal"
)

// SignalLog 발행된 매수 신호 기록
type SignalLog struct {
	RecordID   string     `json:"record_id,omitempty"`
	Symbol     string     `json:"symbol"`
	SignalTime time.Time  `json:"signal_time"`
	SignalType string     `json:"signal_type"`
	Confidence float64    `json:"confidence"`
	EntryPrice float64    `json:"entry_price"`
	WinProb    *float64   `json:"win_prob,omitempty"`
	Filtered   bool       `json:"filtered,omitempty"` // ML 필터에서 제외됨
	ExitTime   *time.Time `json:"exit_time,omitempty"`
	ExitReason string     `json:"exit_reason,omitempty"`
	ExitPrice  float64    `json:"exit_price,omitempty"`
	ProfitPct  float64    `json:"profit_pct,omitempty"`
	Result     string     `json:"result,omitempty"` // WIN / LOSS / EOD
}

// SessionState 하루 감시 상태
type SessionState struct {
	Date      string         `json:"date"`
	Market    string         `json:"market"`
	Watchlist int            `json:"watchlist"`
	Cycles    int            `json:"cycles"`
	States    map[string]int `json:"states"` // decision state -> count
	Saved     int            `json:"saved"`
	Errors    int            `json:"errors"`
	Signals   []SignalLog    `json:"signals"`
	WinCount  int            `json:"win_count"`
	LossCount int            `json:"loss_count"`
	Status    string         `json:"status"` // "running", "stopped", "market_closed", ...
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time,omitempty"`
}

// SessionTracker 일일 신호 추적기
type SessionTracker struct {
	state   SessionState
	dataDir string
	mu      sync.RWMutex
}

// NewSessionTracker 생성자
func NewSessionTracker(dataDir string) *SessionTracker {
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".pullback")
	}
	os.MkdirAll(dataDir, 0755)

	return &SessionTracker{dataDir: dataDir}
}

// Start 거래일 시작. 같은 날짜의 상태 파일이 있으면 복원
func (t *SessionTracker) Start(date time.Time, marketCode string, watchlist int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	day := date.Format("2006-01-02")

	if existing, err := t.loadState(day); err == nil && existing != nil {
		t.state = *existing
		t.state.Status = "running"
		t.state.Watchlist = watchlist
		if t.state.States == nil {
			t.state.States = make(map[string]int)
		}
		return nil
	}

	t.state = SessionState{
		Date:      day,
		Market:    marketCode,
		Watchlist: watchlist,
		States:    make(map[string]int),
		Signals:   make([]SignalLog, 0),
		Status:    "running",
		StartTime: time.Now(),
	}
	return t.saveState()
}

// RecordCycle 스캔 주기 종료 기록
func (t *SessionTracker) RecordCycle(errors int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.Cycles++
	t.state.Errors += errors
	t.saveState()
}

// RecordDecision 판정 결과 집계
func (t *SessionTracker) RecordDecision(d *signal.Decision, saved bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.States == nil {
		t.state.States = make(map[string]int)
	}
	t.state.States[string(d.State)]++
	if saved {
		t.state.Saved++
	}
}

// RecordSignal 매수 신호 기록
func (t *SessionTracker) RecordSignal(s SignalLog) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.Signals = append(t.state.Signals, s)
	t.saveState()
}

// RecordExit 청산 기록. 해당 신호가 없으면 false
func (t *SessionTracker) RecordExit(symbol string, signalTime, exitTime time.Time, reason string, price, pct float64, result string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.state.Signals {
		s := &t.state.Signals[i]
		if s.Symbol != symbol || !s.SignalTime.Equal(signalTime) || s.Filtered {
			continue
		}
		at := exitTime
		s.ExitTime = &at
		s.ExitReason = reason
		s.ExitPrice = price
		s.ProfitPct = pct
		s.Result = result
		if pct > 0 {
			t.state.WinCount++
		} else {
			t.state.LossCount++
		}
		t.saveState()
		return true
	}
	return false
}

// SetStatus 상태 설정
func (t *SessionTracker) SetStatus(status string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.Status = status
	if status != "running" {
		t.state.EndTime = time.Now()
	}
	t.saveState()
}

// GetState 현재 상태 조회
func (t *SessionTracker) GetState() SessionState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := t.state
	s.States = make(map[string]int, len(t.state.States))
	for k, v := range t.state.States {
		s.States[k] = v
	}
	s.Signals = append([]SignalLog(nil), t.state.Signals...)
	return s
}

// 상태 파일 경로
func (t *SessionTracker) stateFilePath(date string) string {
	return filepath.Join(t.dataDir, fmt.Sprintf("session_%s.json", date))
}

// 상태 저장
func (t *SessionTracker) saveState() error {
	if t.state.Date == "" {
		return nil
	}
	data, err := json.MarshalIndent(t.state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(t.stateFilePath(t.state.Date), data, 0644)
}

// 상태 로드
func (t *SessionTracker) loadState(date string) (*SessionState, error) {
	data, err := os.ReadFile(t.stateFilePath(date))
	if err != nil {
		return nil, err
	}

	var state SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// GenerateReport 일일 리포트 생성
func (t *SessionTracker) GenerateReport() string {
	s := t.GetState()

	var b strings.Builder
	fmt.Fprintf(&b, `
================================================================================
                         DAILY SIGNAL REPORT
                         %s (%s)
================================================================================

SUMMARY
-------
  Status:           %s
  Watchlist:        %d
  Cycles:           %d
  Patterns Saved:   %d
  Fetch Errors:     %d

DECISIONS
---------
`, s.Date, s.Market, s.Status, s.Watchlist, s.Cycles, s.Saved, s.Errors)

	states := make([]string, 0, len(s.States))
	for k := range s.States {
		states = append(states, k)
	}
	sort.Strings(states)
	for _, k := range states {
		fmt.Fprintf(&b, "  %-30s %d\n", k, s.States[k])
	}

	filtered := 0
	for _, sig := range s.Signals {
		if sig.Filtered {
			filtered++
		}
	}
	fmt.Fprintf(&b, `
SIGNALS
-------
  Published:        %d
  ML Filtered:      %d
  Wins:             %d
  Losses:           %d
  Win Rate:         %.1f%%

TIME
----
  Start:            %s
  End:              %s
  Duration:         %s

`, len(s.Signals)-filtered, filtered, s.WinCount, s.LossCount,
		winRate(s.WinCount, s.LossCount),
		s.StartTime.Format("15:04:05"),
		formatEndTime(s.EndTime),
		formatDuration(s.StartTime, s.EndTime))

	if len(s.Signals) > 0 {
		b.WriteString("TRADES\n------\n")
		for i, sig := range s.Signals {
			fmt.Fprintf(&b, "  %d. [%s] %s %s conf %.0f @ %.2f",
				i+1, sig.SignalTime.Format("15:04"), sig.SignalType, sig.Symbol, sig.Confidence, sig.EntryPrice)
			switch {
			case sig.Filtered:
				b.WriteString(" (filtered)")
			case sig.ExitTime != nil:
				fmt.Fprintf(&b, " -> %s @ %.2f %+.2f%%", sig.ExitReason, sig.ExitPrice, sig.ProfitPct)
			default:
				b.WriteString(" (open)")
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("\n================================================================================")
	return b.String()
}

// SaveReport 리포트를 파일로 저장
func (t *SessionTracker) SaveReport() (string, error) {
	report := t.GenerateReport()

	t.mu.RLock()
	date := t.state.Date
	t.mu.RUnlock()

	path := filepath.Join(t.dataDir, fmt.Sprintf("report_%s.txt", date))
	if err := os.WriteFile(path, []byte(report), 0644); err != nil {
		return "", err
	}
	return path, nil
}

func winRate(wins, losses int) float64 {
	total := wins + losses
	if total == 0 {
		return 0
	}
	return float64(wins) / float64(total) * 100
}

func formatEndTime(t time.Time) string {
	if t.IsZero() {
		return "(running)"
	}
	return t.Format("15:04:05")
}

func formatDuration(start, end time.Time) string {
	if end.IsZero() {
		end = time.Now()
	}
	d := end.Sub(start)
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", hours, mins)
}
