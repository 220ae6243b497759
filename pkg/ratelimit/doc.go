// Package ratelimit provides token bucket and sliding window rate
// limiters. The sliding window paces classifier API calls to a fixed
// number of requests per minute; the token bucket throttles inbound
// HTTP requests on the REST surface.
package ratelimit
