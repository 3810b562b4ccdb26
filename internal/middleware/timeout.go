package middleware

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"

	"github.com/charlesng35/accounts/pkg/errors"
	"github.com/charlesng35/accounts/pkg/response"
)

// Timeout bounds each request to d. The handler chain writes into a buffer;
// if the deadline passes first the client receives 408 immediately and
// anything the handler writes afterwards is discarded. The middleware still
// waits for the chain to return before releasing the gin context.
func Timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		original := c.Writer
		buffered := newTimeoutWriter(original)
		c.Writer = buffered

		done := make(chan struct{})
		var panicked any
		go func() {
			defer close(done)
			defer func() { panicked = recover() }()
			c.Next()
		}()

		select {
		case <-done:
			c.Writer = original
			if panicked != nil {
				panic(panicked)
			}
			buffered.commit()
		case <-ctx.Done():
			buffered.expire()
			writeTimeout(original)
			<-done
			c.Writer = original
			c.Abort()
			if panicked != nil {
				panic(panicked)
			}
		}
	}
}

func writeTimeout(w gin.ResponseWriter) {
	appErr := errors.ErrRequestTimeout
	w.WriteHeader(appErr.StatusCode)
	_ = render.JSON{Data: response.Response{
		Error: &response.ErrorInfo{Code: appErr.Code, Message: appErr.Message},
	}}.Render(w)
	w.Flush()
}

// timeoutWriter holds the response in memory until the handler chain
// returns. After expire every write fails with http.ErrHandlerTimeout.
type timeoutWriter struct {
	gin.ResponseWriter

	mu          sync.Mutex
	header      http.Header
	body        bytes.Buffer
	status      int
	wroteHeader bool
	expired     bool
}

func newTimeoutWriter(w gin.ResponseWriter) *timeoutWriter {
	return &timeoutWriter{
		ResponseWriter: w,
		header:         w.Header().Clone(),
		status:         http.StatusOK,
	}
}

func (w *timeoutWriter) Header() http.Header {
	return w.header
}

func (w *timeoutWriter) WriteHeader(code int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.expired || w.wroteHeader || code <= 0 {
		return
	}
	w.status = code
}

func (w *timeoutWriter) WriteHeaderNow() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.expired {
		w.wroteHeader = true
	}
}

func (w *timeoutWriter) Write(data []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.expired {
		return 0, http.ErrHandlerTimeout
	}
	w.wroteHeader = true
	return w.body.Write(data)
}

func (w *timeoutWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

func (w *timeoutWriter) Status() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *timeoutWriter) Size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.wroteHeader {
		return -1
	}
	return w.body.Len()
}

func (w *timeoutWriter) Written() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.wroteHeader
}

// Flush is a no-op; buffered output is sent by commit.
func (w *timeoutWriter) Flush() {}

func (w *timeoutWriter) expire() {
	w.mu.Lock()
	w.expired = true
	w.mu.Unlock()
}

func (w *timeoutWriter) commit() {
	w.mu.Lock()
	defer w.mu.Unlock()

	dst := w.ResponseWriter.Header()
	for key, values := range w.header {
		dst[key] = values
	}
	if !w.wroteHeader {
		if w.status != http.StatusOK {
			w.ResponseWriter.WriteHeader(w.status)
		}
		return
	}
	w.ResponseWriter.WriteHeader(w.status)
	if w.body.Len() > 0 {
		_, _ = w.ResponseWriter.Write(w.body.Bytes())
	} else {
		w.ResponseWriter.WriteHeaderNow()
	}
}
