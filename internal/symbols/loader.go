package symbols

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"pullback/pkg/model"
)

// Loader builds KRX watchlists from universes, files and symbol lists
type Loader struct {
	exchange string
}

// NewLoader creates a new symbol loader for an exchange code
func NewLoader(exchange string) *Loader {
	if exchange == "" {
		exchange = "KRX"
	}
	return &Loader{exchange: exchange}
}

// IsKoreanSymbol 6자리 숫자 종목코드인지
func IsKoreanSymbol(symbol string) bool {
	if len(symbol) != 6 {
		return false
	}
	for _, c := range symbol {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// LoadSymbols loads specific symbols. Blank entries and duplicates are
// dropped; invalid codes are an error.
func (l *Loader) LoadSymbols(symbols []string) ([]model.Stock, error) {
	stocks := make([]model.Stock, 0, len(symbols))
	seen := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		sym = strings.TrimSpace(sym)
		if sym == "" || seen[sym] {
			continue
		}
		if !IsKoreanSymbol(sym) {
			return nil, fmt.Errorf("invalid KRX symbol: %q", sym)
		}
		seen[sym] = true
		stocks = append(stocks, l.stock(sym, ""))
	}
	return stocks, nil
}

// LoadUniverse loads a built-in universe
func (l *Loader) LoadUniverse(u Universe) ([]model.Stock, error) {
	syms := GetUniverse(u)
	if syms == nil {
		return nil, fmt.Errorf("unknown universe: %s (available: %v)", u, Universes())
	}
	return l.LoadSymbols(syms)
}

// LoadFile reads a watchlist file
func (l *Loader) LoadFile(path string) ([]model.Stock, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open watchlist: %w", err)
	}
	defer f.Close()

	stocks, err := l.Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return stocks, nil
}

// Read parses one stock per line as "code" or "code,name". Lines starting
// with # and a "code" header row are skipped.
func (l *Loader) Read(r io.Reader) ([]model.Stock, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var stocks []model.Stock
	seen := make(map[string]bool)
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		code := strings.TrimSpace(rec[0])
		if code == "" || strings.EqualFold(code, "code") || strings.EqualFold(code, "symbol") {
			continue
		}
		if !IsKoreanSymbol(code) {
			return nil, fmt.Errorf("line %d: invalid KRX symbol %q", line, code)
		}
		if seen[code] {
			continue
		}
		seen[code] = true

		name := ""
		if len(rec) > 1 {
			name = strings.TrimSpace(rec[1])
		}
		stocks = append(stocks, l.stock(code, name))
	}
	return stocks, nil
}

// Resolve accepts a universe name, a watchlist file path or a comma
// separated list of codes
func (l *Loader) Resolve(spec string) ([]model.Stock, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("empty watchlist")
	}
	if syms := GetUniverse(Universe(spec)); syms != nil {
		return l.LoadSymbols(syms)
	}
	if _, err := os.Stat(spec); err == nil {
		return l.LoadFile(spec)
	}
	return l.LoadSymbols(strings.Split(spec, ","))
}

func (l *Loader) stock(code, name string) model.Stock {
	if name == "" {
		name = Name(code)
	}
	return model.Stock{Symbol: code, Name: name, Exchange: l.exchange}
}
