package symbols

import "sort"

// Universe represents a predefined stock universe
type Universe string

const (
	UniverseKospiTop Universe = "kospi-top"
	UniverseTest     Universe = "test" // Small set for testing
)

// Universes lists the built-in universes
func Universes() []Universe {
	return []Universe{UniverseKospiTop, UniverseTest}
}

// GetUniverse returns the list of symbols for a given universe
func GetUniverse(u Universe) []string {
	switch u {
	case UniverseKospiTop:
		return KospiTopSymbols()
	case UniverseTest:
		return TestSymbols
	default:
		return nil
	}
}

// TestSymbols is a small set for quick testing
var TestSymbols = []string{
	"005930", "000660", "035420", "035720", "005380",
}

// kospiTop KOSPI 시가총액 상위 종목
var kospiTop = map[string]string{
	"005930": "삼성전자",
	"000660": "SK하이닉스",
	"373220": "LG에너지솔루션",
	"207940": "삼성바이오로직스",
	"005380": "현대차",
	"000270": "기아",
	"068270": "셀트리온",
	"005490": "POSCO홀딩스",
	"035420": "NAVER",
	"051910": "LG화학",
	"006400": "삼성SDI",
	"105560": "KB금융",
	"055550": "신한지주",
	"012330": "현대모비스",
	"035720": "카카오",
	"028260": "삼성물산",
	"066570": "LG전자",
	"003670": "포스코퓨처엠",
	"086790": "하나금융지주",
	"032830": "삼성생명",
	"015760": "한국전력",
	"034730": "SK",
	"096770": "SK이노베이션",
	"017670": "SK텔레콤",
	"018260": "삼성에스디에스",
	"011200": "HMM",
	"009150": "삼성전기",
	"003550": "LG",
	"010130": "고려아연",
	"012450": "한화에어로스페이스",
}

// KospiTopSymbols returns the KOSPI large caps sorted by code
func KospiTopSymbols() []string {
	out := make([]string, 0, len(kospiTop))
	for code := range kospiTop {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// Name returns the Korean name of a known code, or the code itself
func Name(code string) string {
	if n, ok := kospiTop[code]; ok {
		return n
	}
	return code
}
