package utils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
)

var ErrNonOKStatus = errors.New("unexpected response status")

// DefaultBackOff retries up to 4 more times (5 attempts in total)
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Minute
	return backoff.WithMaxRetries(b, 4)
}

/*
	DoWithRetry performs the request built by newRequest until it gets a 2xx
	response or the backoff gives up. 429 responses are always retried.
	Network errors and 5xx responses are retried for idempotent methods;
	a POST or PATCH is only resent when it never reached the server.
	Any other status fails immediately with ErrNonOKStatus
*/
func DoWithRetry(ctx context.Context, client *http.Client, newRequest func() (*http.Request, error), b backoff.BackOff, log logrus.FieldLogger) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if b == nil {
		b = DefaultBackOff()
	}

	var (
		body     []byte
		finalErr error
	)
	operation := func() error {
		request, err := newRequest()
		if err != nil {
			finalErr = err
			return nil
		}

		response, err := client.Do(request.WithContext(ctx))
		if err != nil {
			if ctx.Err() != nil {
				finalErr = ctx.Err()
				return nil
			}
			if !idempotent(request.Method) && !neverSent(err) {
				finalErr = err
				return nil
			}
			return err
		}
		defer response.Body.Close()

		payload, err := io.ReadAll(response.Body)
		if err != nil {
			return err
		}

		if response.StatusCode == http.StatusTooManyRequests ||
			(response.StatusCode >= 500 && idempotent(request.Method)) {
			return fmt.Errorf("%s %s: %d: %w", request.Method, request.URL, response.StatusCode, ErrNonOKStatus)
		}
		if response.StatusCode < 200 || response.StatusCode > 299 {
			finalErr = fmt.Errorf("%s %s: %d %s: %w", request.Method, request.URL, response.StatusCode, string(payload), ErrNonOKStatus)
			return nil
		}

		body = payload
		finalErr = nil
		return nil
	}

	notify := func(err error, wait time.Duration) {
		if log != nil {
			log.Warnf("request failed (%s), retrying in %s", err, wait)
		}
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}
	return body, finalErr
}

func idempotent(method string) bool {
	return method != http.MethodPost && method != http.MethodPatch
}

// neverSent reports whether err happened while connecting, before any byte of the request went out
func neverSent(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// GetJson fetches url and decodes the JSON body into a T
func GetJson[T any](ctx context.Context, client *http.Client, url string, headers http.Header, b backoff.BackOff, log logrus.FieldLogger) (T, error) {
	var objects T

	body, err := DoWithRetry(ctx, client, func() (*http.Request, error) {
		request, err := http.NewRequest(http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		for k, v := range headers {
			request.Header[k] = v
		}
		return request, nil
	}, b, log)
	if err != nil {
		return objects, err
	}

	if jsonErr := json.Unmarshal(body, &objects); jsonErr != nil {
		return objects, fmt.Errorf("decoding response from %s: %w", url, jsonErr)
	}
	return objects, nil
}
