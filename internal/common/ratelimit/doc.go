// Package ratelimit enforces a minimum interval between outbound provider
// requests.
//
// One Limiter is shared by every identifier pipeline of a batch. The local
// backend is a golang.org/x/time/rate limiter with a burst of one. The redis
// backend books issuance slots in Redis so that several auditor processes
// using the same provider account share one ceiling; if Redis is unreachable
// it degrades to the local limiter instead of failing the request.
//
// Acquire only returns an error when its context ends.
package ratelimit
