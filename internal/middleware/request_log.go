package middleware

import (
	"bufio"
	"net"
	"net/http"
	"time"

	"github.com/networkserver/internal/logger"
)

// statusWriter запоминает статус и факт начала ответа для RecoverJSON и RequestLog.
// Реализует http.Hijacker, иначе /ws не сможет сделать upgrade.
type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

// wrapStatus не оборачивает повторно, поэтому RecoverJSON и RequestLog видят один статус.
func wrapStatus(w http.ResponseWriter) *statusWriter {
	if sw, ok := w.(*statusWriter); ok {
		return sw
	}
	return &statusWriter{ResponseWriter: w, status: http.StatusOK}
}

func (w *statusWriter) WriteHeader(code int) {
	if w.wrote {
		return
	}
	w.status = code
	w.wrote = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wrote {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	w.wrote = true
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// RequestLog пишет method, path, статус и username (если есть) по каждому запросу.
// Время выполнения логируется через DeferLogDuration (медленные запросы видны на info).
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer logger.DeferLogDuration("http "+r.Method+" "+r.URL.Path, time.Now())()
		sw := wrapStatus(w)
		next.ServeHTTP(sw, r)
		if sw.status >= http.StatusBadRequest {
			logger.Debugf("http %s %s status=%d identity=%q", r.Method, r.URL.Path, sw.status, GetIdentity(r.Context()))
		}
	})
}
