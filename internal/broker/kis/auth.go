package kis

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "pullback/internal/errors"
)

// 만료 5분 전부터 재발급
const tokenSkew = 5 * time.Minute

// tokenCache 토큰 캐시 파일 구조
type tokenCache struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	AppKey      string    `json:"app_key"` // 다른 계정 구분용
}

// TokenManager OAuth 토큰 관리 (client_credentials + 파일 캐시)
type TokenManager struct {
	creds     Credentials
	baseURL   string
	client    *http.Client
	cacheFile string
	log       zerolog.Logger

	mu          sync.RWMutex
	accessToken string
	expiresAt   time.Time
}

// NewTokenManager 토큰 매니저 생성. cacheDir가 비어 있으면 홈 디렉토리 사용
func NewTokenManager(creds Credentials, baseURL, cacheDir string, log zerolog.Logger) *TokenManager {
	if cacheDir == "" {
		cacheDir, _ = os.UserHomeDir()
	}
	// AppKey별 캐시 파일 분리
	hash := sha256.Sum256([]byte(creds.AppKey))
	cacheFile := filepath.Join(cacheDir, fmt.Sprintf(".kis_token_%s.json", hex.EncodeToString(hash[:4])))

	tm := &TokenManager{
		creds:     creds,
		baseURL:   baseURL,
		client:    &http.Client{Timeout: 10 * time.Second},
		cacheFile: cacheFile,
		log:       log,
	}
	tm.loadCachedToken()
	return tm
}

// valid 잠금 상태에서 호출
func (tm *TokenManager) valid() bool {
	return tm.accessToken != "" && time.Now().Add(tokenSkew).Before(tm.expiresAt)
}

func (tm *TokenManager) loadCachedToken() {
	data, err := os.ReadFile(tm.cacheFile)
	if err != nil {
		return
	}

	var cache tokenCache
	if err := json.Unmarshal(data, &cache); err != nil || cache.AppKey != tm.creds.AppKey {
		return
	}

	tm.accessToken = cache.AccessToken
	tm.expiresAt = cache.ExpiresAt
	if !tm.valid() {
		tm.accessToken, tm.expiresAt = "", time.Time{}
		return
	}
	tm.log.Debug().Time("expires", tm.expiresAt).Msg("using cached KIS token")
}

func (tm *TokenManager) saveCachedToken() error {
	data, err := json.MarshalIndent(tokenCache{
		AccessToken: tm.accessToken,
		ExpiresAt:   tm.expiresAt,
		AppKey:      tm.creds.AppKey,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}
	if err := os.WriteFile(tm.cacheFile, data, 0600); err != nil {
		return fmt.Errorf("write cache file %s: %w", tm.cacheFile, err)
	}
	return nil
}

// CacheFile 캐시 파일 경로
func (tm *TokenManager) CacheFile() string {
	return tm.cacheFile
}

// GetToken 유효한 토큰 반환 (자동 갱신)
func (tm *TokenManager) GetToken(ctx context.Context) (string, error) {
	tm.mu.RLock()
	if tm.valid() {
		token := tm.accessToken
		tm.mu.RUnlock()
		return token, nil
	}
	tm.mu.RUnlock()

	return tm.refreshToken(ctx)
}

func (tm *TokenManager) refreshToken(ctx context.Context) (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	// 다른 고루틴이 먼저 갱신했을 수 있음
	if tm.valid() {
		return tm.accessToken, nil
	}

	body, err := json.Marshal(tokenRequest{
		GrantType: "client_credentials",
		AppKey:    tm.creds.AppKey,
		AppSecret: tm.creds.AppSecret,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tm.baseURL+pathToken, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := tm.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send token request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request %d - %s: %w", resp.StatusCode, string(respBody), apperrors.ErrAuthFailed)
	}

	var tr tokenResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return "", fmt.Errorf("unmarshal token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("empty access token: %w", apperrors.ErrAuthFailed)
	}

	tm.accessToken = tr.AccessToken
	tm.expiresAt = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)

	if err := tm.saveCachedToken(); err != nil {
		tm.log.Warn().Err(err).Msg("failed to cache KIS token")
	} else {
		tm.log.Info().Str("file", tm.cacheFile).Time("expires", tm.expiresAt).Msg("KIS token cached")
	}

	return tm.accessToken, nil
}

// Invalidate 토큰 무효화 (재발급 강제)
func (tm *TokenManager) Invalidate() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.accessToken = ""
	tm.expiresAt = time.Time{}
}
