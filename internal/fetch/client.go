// Package fetch provides the client for the third-party wallet PnL provider.
package fetch

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

const (
	// Backoff window before the single retry on a 5xx answer
	retryWaitMin = 1 * time.Second
	retryWaitMax = 2 * time.Second

	// maxRetries bounds automatic retries of one provider call
	maxRetries = 1
)

// JitterBackoff waits a uniformly random duration in [min, max).
// It satisfies retryablehttp.Backoff.
func JitterBackoff(min, max time.Duration, _ int, _ *http.Response) time.Duration {
	if max <= min {
		return min
	}
	return min + rand.N(max-min)
}

// CheckRetry retries only server errors. Network failures, timeouts, 429s and
// other statuses are returned to the caller on the first attempt.
func CheckRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, ctxErr
	}
	if err != nil || resp == nil {
		return false, nil
	}
	return resp.StatusCode >= http.StatusInternalServerError, nil
}

// newRetryClient creates an HTTP client with the provider's retry policy.
// The last response is passed through unchanged once retries are exhausted so
// the caller can map its status.
func newRetryClient(timeout time.Duration, backoff retryablehttp.Backoff, base *http.Client) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	if base != nil {
		c.HTTPClient = base
	}
	if timeout > 0 {
		c.HTTPClient.Timeout = timeout
	}
	c.RetryMax = maxRetries
	c.RetryWaitMin = retryWaitMin
	c.RetryWaitMax = retryWaitMax
	c.CheckRetry = CheckRetry
	c.Backoff = backoff
	if c.Backoff == nil {
		c.Backoff = JitterBackoff
	}
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	c.Logger = leveledLogger{entry: logrus.WithField("component", "provider-http")}
	return c
}

// leveledLogger adapts logrus to retryablehttp.LeveledLogger.
type leveledLogger struct {
	entry *logrus.Entry
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(toFields(keysAndValues)).Error(msg)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(toFields(keysAndValues)).Warn(msg)
}

// Info is demoted to debug: retryablehttp logs every request at info.
func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(toFields(keysAndValues)).Debug(msg)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(toFields(keysAndValues)).Debug(msg)
}

func toFields(keysAndValues []interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
