package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/networkserver/internal/logger"
)

// RecoverJSON превращает панику обработчика в JSON 500 с логом стека, если ответ ещё не
// начат. http.ErrAbortHandler пробрасывается дальше: net/http молча рвёт соединение.
// После апгрейда /ws ответ считается начатым и ничего не пишется.
func RecoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := wrapStatus(w)
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}
			logger.Errorf("panic %s %s identity=%q: %v\n%s", r.Method, r.URL.Path, GetIdentity(r.Context()), rec, debug.Stack())
			if sw.wrote {
				return
			}
			sw.Header().Set("Content-Type", "application/json; charset=utf-8")
			sw.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(sw).Encode(map[string]string{"error": "internal server error"})
		}()
		next.ServeHTTP(sw, r)
	})
}
