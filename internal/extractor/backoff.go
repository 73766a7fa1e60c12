package extractor

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/auctionchain/auction-mirror/internal/chain"
	"github.com/auctionchain/auction-mirror/internal/logger"
)

// chainWithBackoff retries individual storage requests with exponential
// backoff and a per-request timeout. This sits below the per-block failure
// policy: once the backoff's elapsed-time budget is spent, the error
// surfaces and the block is abandoned.
type chainWithBackoff struct {
	client         ChainReader
	maxElapsedTime time.Duration
	requestTimeout time.Duration
}

// WithBackoff wraps a ChainReader so each request is retried up to
// maxElapsedTime, with each attempt bounded by requestTimeout.
func WithBackoff(client ChainReader, maxElapsedTime, requestTimeout time.Duration) ChainReader {
	return &chainWithBackoff{
		client:         client,
		maxElapsedTime: maxElapsedTime,
		requestTimeout: requestTimeout,
	}
}

func (cwb *chainWithBackoff) StorageKeys(ctx context.Context, prefix string, at string) ([]string, error) {
	var keys []string

	err := backoff.RetryNotify(
		func() (err error) {
			ctx, cancel := context.WithTimeout(ctx, cwb.requestTimeout)
			defer cancel()

			keys, err = cwb.client.StorageKeys(ctx, prefix, at)
			return err
		},
		cwb.newBackoff(ctx),
		func(err error, d time.Duration) {
			logger.Errorf("StorageKeys error: %v. Will retry after %v", err, d)
		},
	)
	if err != nil {
		return nil, errors.Wrap(err, "StorageKeys failed")
	}

	return keys, nil
}

func (cwb *chainWithBackoff) QueryStorageAt(ctx context.Context, keys []string, at string) ([]chain.StorageChange, error) {
	var changes []chain.StorageChange

	err := backoff.RetryNotify(
		func() (err error) {
			ctx, cancel := context.WithTimeout(ctx, cwb.requestTimeout)
			defer cancel()

			changes, err = cwb.client.QueryStorageAt(ctx, keys, at)
			return err
		},
		cwb.newBackoff(ctx),
		func(err error, d time.Duration) {
			logger.Errorf("QueryStorageAt error: %v. Will retry after %v", err, d)
		},
	)
	if err != nil {
		return nil, errors.Wrap(err, "QueryStorageAt failed")
	}

	return changes, nil
}

func (cwb *chainWithBackoff) GetStorage(ctx context.Context, key string, at string) (string, error) {
	var value string

	err := backoff.RetryNotify(
		func() (err error) {
			ctx, cancel := context.WithTimeout(ctx, cwb.requestTimeout)
			defer cancel()

			value, err = cwb.client.GetStorage(ctx, key, at)
			return err
		},
		cwb.newBackoff(ctx),
		func(err error, d time.Duration) {
			logger.Errorf("GetStorage error: %v. Will retry after %v", err, d)
		},
	)
	if err != nil {
		return "", errors.Wrap(err, "GetStorage failed")
	}

	return value, nil
}

func (cwb *chainWithBackoff) newBackoff(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithMaxElapsedTime(cwb.maxElapsedTime),
	), ctx)
}
