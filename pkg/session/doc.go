// Package session manages platform sessions: cached token reuse,
// login with bounded retries, and the per-session request budget that
// keeps extraction runs polite.
package session
