package utils

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func quickBackOff() backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
}

func requestTo(method, url string) func() (*http.Request, error) {
	return func() (*http.Request, error) {
		return http.NewRequest(method, url, strings.NewReader("{}"))
	}
}

func TestDoWithRetryRetriesServerErrorsForGet(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	body, err := DoWithRetry(context.Background(), nil, requestTo(http.MethodGet, server.URL), quickBackOff(), nil)
	assert.Nil(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDoWithRetryPostStatuses(t *testing.T) {
	testCases := []struct {
		status    int
		wantCalls int32
	}{
		{http.StatusInternalServerError, 1},
		{http.StatusServiceUnavailable, 1},
		{http.StatusTooManyRequests, 4},
	}

	for _, tc := range testCases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tc.status)
			}))
			defer server.Close()

			_, err := DoWithRetry(context.Background(), nil, requestTo(http.MethodPost, server.URL), quickBackOff(), nil)
			assert.ErrorIs(t, err, ErrNonOKStatus)
			assert.Equal(t, tc.wantCalls, atomic.LoadInt32(&calls))
		})
	}
}

func TestDoWithRetryResendsPostThatNeverConnected(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	logger, hook := test.NewNullLogger()
	_, err := DoWithRetry(context.Background(), nil, requestTo(http.MethodPost, url), quickBackOff(), logger)
	assert.NotNil(t, err)
	assert.Len(t, hook.AllEntries(), 3)
}
