// Package governance provides the request governance primitives shared by
// both gateway endpoints: per-client sliding-window rate limiting and
// upstream timeout enforcement.
package governance
