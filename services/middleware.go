// services/middleware.go

package services

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Baiano-Indiano/tech-gamer-ecommerce-sub001/favorites"
)

const (
	cookieMaxAge    = 60 * 60 * 48
	cookiePrefix    = "shop_"
	cookieSessionID = cookiePrefix + "session-id"
)

type ctxKeyLog struct{}
type ctxKeyRequestID struct{}
type ctxKeySessionID struct{}
type ctxKeySession struct{}

type logHandler struct {
	log  logrus.FieldLogger
	next http.Handler
}

type responseRecorder struct {
	b      int
	status int
	w      http.ResponseWriter
}

func (r *responseRecorder) Header() http.Header { return r.w.Header() }

func (r *responseRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.w.Write(p)
	r.b += n
	return n, err
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.w.WriteHeader(statusCode)
}

func (lh *logHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := uuid.NewString()
	ctx = context.WithValue(ctx, ctxKeyRequestID{}, requestID)

	start := time.Now()
	rr := &responseRecorder{w: w}
	log := lh.log.WithFields(logrus.Fields{
		"http.req.path":   r.URL.Path,
		"http.req.method": r.Method,
		"http.req.id":     requestID,
	})
	if v, ok := ctx.Value(ctxKeySessionID{}).(string); ok {
		log = log.WithField("session", v)
	}
	log.Debug("request started")
	defer func() {
		log.WithFields(logrus.Fields{
			"http.resp.took_ms": int64(time.Since(start) / time.Millisecond),
			"http.resp.status":  rr.status,
			"http.resp.bytes":   rr.b,
		}).Debugf("request complete")
	}()

	ctx = context.WithValue(ctx, ctxKeyLog{}, log)
	lh.next.ServeHTTP(rr, r.WithContext(ctx))
}

// ensureSessionID assigns a session cookie to shoppers that lack one.
func ensureSessionID(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var sessionID string
		c, err := r.Cookie(cookieSessionID)
		if err == http.ErrNoCookie || (err == nil && c.Value == "") {
			sessionID = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     cookieSessionID,
				Value:    sessionID,
				MaxAge:   cookieMaxAge,
				Path:     "/",
				HttpOnly: true,
			})
		} else if err != nil {
			return
		} else {
			sessionID = c.Value
		}
		ctx := context.WithValue(r.Context(), ctxKeySessionID{}, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// withSession opens the caller's session and provides its favorites store
// to the handlers below.
func (sf *Storefront) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := requestLogger(r)
		sess, err := sf.sessions.Get(r.Context(), sessionID(r))
		if err != nil {
			renderHTTPError(log, w, err, http.StatusInternalServerError)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeySession{}, sess)
		ctx = favorites.NewContext(ctx, sess.Favorites)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestLogger(r *http.Request) logrus.FieldLogger {
	if log, ok := r.Context().Value(ctxKeyLog{}).(logrus.FieldLogger); ok {
		return log
	}
	return logrus.StandardLogger()
}

func sessionID(r *http.Request) string {
	if v, ok := r.Context().Value(ctxKeySessionID{}).(string); ok {
		return v
	}
	return ""
}

func currentSession(r *http.Request) *Session {
	s, _ := r.Context().Value(ctxKeySession{}).(*Session)
	return s
}
