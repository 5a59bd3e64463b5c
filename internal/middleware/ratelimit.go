package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// slidingWindow хранит метки запросов по ключу за последнее окно.
type slidingWindow struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	max    int
	window time.Duration
	now    func() time.Time
}

func newSlidingWindow(max int, window time.Duration) *slidingWindow {
	return &slidingWindow{hits: make(map[string][]time.Time), max: max, window: window, now: time.Now}
}

func (s *slidingWindow) allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	cutoff := now.Add(-s.window)
	kept := s.hits[key][:0]
	for _, t := range s.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= s.max {
		s.hits[key] = kept
		return false
	}
	s.hits[key] = append(kept, now)
	return true
}

// RateLimit ограничивает число запросов за window: по identity из контекста, без неё по IP.
// Ставится после Authenticate. 429 при превышении.
func RateLimit(max int, window time.Duration) func(http.Handler) http.Handler {
	limiter := newSlidingWindow(max, window)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := GetIdentity(r.Context())
			if key == "" {
				key = "ip:" + clientIP(r)
			}
			if !limiter.allow(key) {
				http.Error(w, `{"error":"too many requests"}`, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP: RemoteAddr без порта (RealIP от chi уже подставил X-Real-Ip).
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
