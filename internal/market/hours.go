package market

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Session 하루 거래시간 (거래소 현지 시각 기준)
type Session struct {
	OpenHour      int    `yaml:"open_hour"`
	OpenMin       int    `yaml:"open_min"`
	CloseHour     int    `yaml:"close_hour"`
	CloseMin      int    `yaml:"close_min"`
	BuyCutoffHour int    `yaml:"buy_cutoff_hour"` // 이 시각 이후 신규 매수 중단
	EODHour       int    `yaml:"eod_hour"`        // 장마감 일괄청산
	EODMin        int    `yaml:"eod_min"`
	Reason        string `yaml:"reason,omitempty"`
}

// Hours 거래소별 거래시간
type Hours struct {
	Code     string
	Timezone string
	Default  Session
	Special  map[string]Session // "2006-01-02" -> 특수일
	Holidays map[string]bool

	loc *time.Location
}

// 상태값
const (
	StatusWeekend     = "weekend"
	StatusHoliday     = "holiday"
	StatusPreMarket   = "pre_market"
	StatusMarketOpen  = "market_open"
	StatusAfterMarket = "after_market"
)

// Status 마켓 상태
type Status struct {
	State       string
	IsOpen      bool
	Now         time.Time
	OpenTime    time.Time
	CloseTime   time.Time
	TimeToOpen  time.Duration
	TimeToClose time.Duration
	Special     bool
}

var venues = map[string]*Hours{
	"KRX": {
		Code:     "KRX",
		Timezone: "Asia/Seoul",
		Default:  Session{OpenHour: 9, CloseHour: 15, CloseMin: 30, BuyCutoffHour: 12, EODHour: 15},
		Holidays: krxHolidays,
		Special: map[string]Session{
			// 수능일 1시간 지연
			"2025-11-13": {OpenHour: 10, CloseHour: 16, CloseMin: 30, BuyCutoffHour: 13, EODHour: 16, Reason: "college entrance exam day"},
		},
	},
	"NYSE": {
		Code:     "NYSE",
		Timezone: "America/New_York",
		Default:  Session{OpenHour: 9, OpenMin: 30, CloseHour: 16, BuyCutoffHour: 15, EODHour: 15, EODMin: 55},
		Holidays: usHolidays,
	},
	"NASDAQ": {
		Code:     "NASDAQ",
		Timezone: "America/New_York",
		Default:  Session{OpenHour: 9, OpenMin: 30, CloseHour: 16, BuyCutoffHour: 15, EODHour: 15, EODMin: 55},
		Holidays: usHolidays,
	},
	"TSE": {
		Code:     "TSE",
		Timezone: "Asia/Tokyo",
		Default:  Session{OpenHour: 9, CloseHour: 15, BuyCutoffHour: 14, EODHour: 14, EODMin: 55},
	},
}

var fallbackOffsets = map[string]int{
	"Asia/Seoul":       9,
	"Asia/Tokyo":       9,
	"America/New_York": -5,
}

func init() {
	for _, h := range venues {
		h.loc = h.Location()
	}
}

// Get 거래소 코드로 거래시간 조회
func Get(code string) (*Hours, error) {
	h, ok := venues[strings.ToUpper(code)]
	if !ok {
		return nil, fmt.Errorf("unknown market: %s", code)
	}
	return h, nil
}

// KRX 한국거래소 거래시간
func KRX() *Hours {
	return venues["KRX"]
}

// Codes 지원하는 거래소 목록
func Codes() []string {
	codes := make([]string, 0, len(venues))
	for c := range venues {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// WithSpecialDays 특수일을 추가한 복사본 반환 (설정 파일용)
func (h *Hours) WithSpecialDays(days map[string]Session) *Hours {
	cp := *h
	cp.Special = make(map[string]Session, len(h.Special)+len(days))
	for d, s := range h.Special {
		cp.Special[d] = s
	}
	for d, s := range days {
		cp.Special[d] = s
	}
	return &cp
}

// Location 거래소 타임존
func (h *Hours) Location() *time.Location {
	if h.loc != nil {
		return h.loc
	}
	loc, err := time.LoadLocation(h.Timezone)
	if err != nil {
		// tzdata 없는 환경: 고정 오프셋으로 대체
		loc = time.FixedZone(h.Code, fallbackOffsets[h.Timezone]*60*60)
	}
	return loc
}

// SessionOn 해당 날짜의 거래시간 (특수일 우선)
func (h *Hours) SessionOn(date time.Time) (Session, bool) {
	key := date.In(h.Location()).Format("2006-01-02")
	if s, ok := h.Special[key]; ok {
		return s, true
	}
	return h.Default, false
}

// OpenTime 해당 날짜 개장 시각
func (h *Hours) OpenTime(date time.Time) time.Time {
	s, _ := h.SessionOn(date)
	return h.at(date, s.OpenHour, s.OpenMin)
}

// CloseTime 해당 날짜 폐장 시각
func (h *Hours) CloseTime(date time.Time) time.Time {
	s, _ := h.SessionOn(date)
	return h.at(date, s.CloseHour, s.CloseMin)
}

// EODTime 해당 날짜 일괄청산 시각
func (h *Hours) EODTime(date time.Time) time.Time {
	s, _ := h.SessionOn(date)
	return h.at(date, s.EODHour, s.EODMin)
}

func (h *Hours) at(date time.Time, hour, minute int) time.Time {
	d := date.In(h.Location())
	return time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, h.Location())
}

// IsTradingDay 주말/휴장일 제외
func (h *Hours) IsTradingDay(date time.Time) bool {
	d := date.In(h.Location())
	if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		return false
	}
	return !h.Holidays[d.Format("2006-01-02")]
}

// ShouldStopBuying 매수 중단 시각 이후인지
func (h *Hours) ShouldStopBuying(t time.Time) bool {
	s, _ := h.SessionOn(t)
	return t.In(h.Location()).Hour() >= s.BuyCutoffHour
}

// IsEODLiquidation 일괄청산 시각 이후인지
func (h *Hours) IsEODLiquidation(t time.Time) bool {
	s, _ := h.SessionOn(t)
	lt := t.In(h.Location())
	if lt.Hour() != s.EODHour {
		return lt.Hour() > s.EODHour
	}
	return lt.Minute() >= s.EODMin
}

// Status 현재 마켓 상태 확인
func (h *Hours) Status(now time.Time) Status {
	now = now.In(h.Location())
	_, special := h.SessionOn(now)

	st := Status{
		Now:       now,
		OpenTime:  h.OpenTime(now),
		CloseTime: h.CloseTime(now),
		Special:   special,
	}

	if !h.IsTradingDay(now) {
		st.State = StatusWeekend
		if wd := now.Weekday(); wd != time.Saturday && wd != time.Sunday {
			st.State = StatusHoliday
		}
		st.TimeToOpen = h.NextOpen(now).Sub(now)
		return st
	}

	switch {
	case now.Before(st.OpenTime):
		st.State = StatusPreMarket
		st.TimeToOpen = st.OpenTime.Sub(now)
	case now.After(st.CloseTime):
		st.State = StatusAfterMarket
		st.TimeToOpen = h.NextOpen(now).Sub(now)
	default:
		// 폐장 시각 정각까지는 장중
		st.State = StatusMarketOpen
		st.IsOpen = true
		st.TimeToClose = st.CloseTime.Sub(now)
	}
	return st
}

// NextOpen now 이후 첫 개장 시각
func (h *Hours) NextOpen(now time.Time) time.Time {
	now = now.In(h.Location())
	if h.IsTradingDay(now) && now.Before(h.OpenTime(now)) {
		return h.OpenTime(now)
	}
	day := now
	for i := 0; i < 14; i++ {
		day = day.AddDate(0, 0, 1)
		if h.IsTradingDay(day) {
			return h.OpenTime(day)
		}
	}
	return h.OpenTime(day)
}

// Info 오늘 거래시간 요약 (로깅용)
func (h *Hours) Info(date time.Time) string {
	s, special := h.SessionOn(date)
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] ", h.Code)
	if special {
		fmt.Fprintf(&b, "special day (%s) ", s.Reason)
	}
	fmt.Fprintf(&b, "open %02d:%02d close %02d:%02d buy cutoff %02d:00 liquidation %02d:%02d",
		s.OpenHour, s.OpenMin, s.CloseHour, s.CloseMin, s.BuyCutoffHour, s.EODHour, s.EODMin)
	return b.String()
}

// FormatDuration 시간 포맷팅
func FormatDuration(d time.Duration) string {
	if d < 0 {
		return "0s"
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// NowKST 현재 한국 시간
func NowKST() time.Time {
	return time.Now().In(KRX().Location())
}
