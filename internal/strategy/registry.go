package strategy

import (
	"fmt"
	"sort"
	"sync"

	"pullback/internal/provider"
	"pullback/internal/signal"
)

// StrategyFactory 전략 생성 함수 타입
type StrategyFactory func(p provider.Provider, cfg signal.Config) Strategy

// registry 전역 레지스트리
var (
	registry     = make(map[string]StrategyFactory)
	registryLock sync.RWMutex
)

// Register 전략 등록
func Register(name string, factory StrategyFactory) {
	registryLock.Lock()
	defer registryLock.Unlock()
	registry[name] = factory
}

// Get 전략 가져오기
func Get(name string, p provider.Provider, cfg signal.Config) (Strategy, error) {
	registryLock.RLock()
	factory, ok := registry[name]
	registryLock.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown strategy: %s (available: %v)", name, List())
	}

	return factory(p, cfg), nil
}

// List 등록된 전략 목록 (정렬됨)
func List() []string {
	registryLock.RLock()
	defer registryLock.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MustGet 전략 가져오기 (없으면 panic)
func MustGet(name string, p provider.Provider, cfg signal.Config) Strategy {
	s, err := Get(name, p, cfg)
	if err != nil {
		panic(err)
	}
	return s
}

// init 기본 전략 등록
func init() {
	Register("pullback", func(p provider.Provider, cfg signal.Config) Strategy {
		cfg.Sequential = false
		return NewPatternStrategy("pullback", DefaultPatternConfig(), signal.NewGate(cfg, nil, nil), p)
	})

	Register("pullback-sequential", func(p provider.Provider, cfg signal.Config) Strategy {
		cfg.Sequential = true
		return NewPatternStrategy("pullback-sequential", DefaultPatternConfig(), signal.NewGate(cfg, nil, nil), p)
	})
}

// StrategyInfo 전략 정보
type StrategyInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// AllInfo 모든 전략 정보
func AllInfo(p provider.Provider, cfg signal.Config) []StrategyInfo {
	names := List()
	infos := make([]StrategyInfo, 0, len(names))

	for _, name := range names {
		if s, err := Get(name, p, cfg); err == nil {
			infos = append(infos, StrategyInfo{Name: s.Name(), Description: s.Description()})
		}
	}

	return infos
}
