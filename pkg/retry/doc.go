// Package retry provides configurable retry logic with pluggable backoff
// strategies. Transient failures such as classifier timeouts or login
// hiccups are retried with exponential backoff and jitter, while
// non-retryable errors (auth, not found, storage) fail immediately.
package retry
