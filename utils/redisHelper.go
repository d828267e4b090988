package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

const requestLockTTL = 30 * time.Second

// ReleaseFunc releases a lock obtained by ObtainRequestLock. It is always safe to call.
type ReleaseFunc func()

// ObtainRequestLock takes a short redis lock on a request id so that double submissions queue up
// before they reach the database. It is best effort: when redis is not ready or the lock cannot be
// obtained in time the caller proceeds and the row locks in MySQL serialize the work.
func ObtainRequestLock(ctx context.Context, locker *redislock.Client, logger *logrus.Logger, requestId int) ReleaseFunc {
	noop := func() {}
	if locker == nil {
		return noop
	}
	key := fmt.Sprintf("lock:request:%d", requestId)
	lock, err := locker.Obtain(ctx, key, requestLockTTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 50),
	})
	if err != nil {
		if logger != nil {
			entry := logger.WithFields(logrus.Fields{
				"field":      "ObtainRequestLock",
				"request_id": requestId,
			})
			if errors.Is(err, redislock.ErrNotObtained) {
				entry.Warn("could not obtain redis lock; proceeding without redis lock")
			} else {
				entry.Warn("error obtaining redis lock; proceeding without redis lock: " + err.Error())
			}
		}
		return noop
	}
	return func() {
		// The request ctx may already be cancelled; release on a fresh one.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if releaseErr := lock.Release(releaseCtx); releaseErr != nil && !errors.Is(releaseErr, redislock.ErrLockNotHeld) && logger != nil {
			logger.WithFields(logrus.Fields{
				"field":      "ObtainRequestLock",
				"request_id": requestId,
			}).Warn("failed to release redis lock: " + releaseErr.Error())
		}
	}
}
