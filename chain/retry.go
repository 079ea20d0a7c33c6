package chain

import "time"

// Retry calls fn up to attempts times, doubling initialBackoff between each
// failure, and returns the last error if every attempt fails. It exists for
// the brief window at startup where a freshly-dialed ChainOracle's backend
// may still be catching up (node still loading its block index, wallet
// still rescanning) rather than genuinely broken — the teacher's own
// example pack carries no retry library anywhere, so this follows the
// generic bounded-exponential-backoff shape rather than reaching for one.
func Retry(attempts int, initialBackoff time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	backoff := initialBackoff
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	return err
}
