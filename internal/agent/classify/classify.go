// Package classify maps raised handler failures onto the failure taxonomy
// the failover executor acts on. Classification is pure string matching:
// no side effects, no I/O.
package classify

import (
	"strings"
	"time"
)

// Kind is the failure category.
type Kind string

const (
	KindRateLimit     Kind = "rate_limit"
	KindAuth          Kind = "auth"
	KindContentPolicy Kind = "content_policy"
	KindTimeout       Kind = "timeout"
	KindServer        Kind = "server_error"
	KindTool          Kind = "tool_error"
	KindCapacity      Kind = "capacity"
	KindUnknown       Kind = "unknown"
)

// Failure is the classified form of a handler error. Consumed immediately
// by the failover executor, never persisted.
type Failure struct {
	Kind      Kind
	Retriable bool
	Failover  bool
	Backoff   time.Duration
	Message   string
}

type rule struct {
	kind      Kind
	retriable bool
	failover  bool
	backoff   time.Duration
	patterns  []string
}

// Rules are checked in order, first match wins. Timeout sits above server
// errors on purpose: a message carrying both "timeout" and "500" is a
// timeout.
var rules = []rule{
	{KindRateLimit, true, false, 30 * time.Second, []string{
		"rate limit", "rate_limit", "429", "too many requests", "quota",
	}},
	{KindAuth, false, true, 0, []string{
		"401", "403", "unauthorized", "forbidden", "authentication",
		"invalid api key", "api key", "permission denied",
	}},
	{KindContentPolicy, false, true, 0, []string{
		"content policy", "content_policy", "policy violation", "safety",
		"refusal", "flagged", "moderation", "harmful",
	}},
	{KindTimeout, true, true, 5 * time.Second, []string{
		"timeout", "timed out", "deadline exceeded",
	}},
	{KindServer, true, true, 10 * time.Second, []string{
		"500", "502", "503", "504", "server error", "internal error",
		"bad gateway", "connection reset", "connection refused",
		"service unavailable", "network",
	}},
	{KindTool, false, true, 0, []string{
		"tool", "mcp", "integration", "command failed", "command not found",
	}},
	{KindCapacity, false, true, 5 * time.Second, []string{
		"context length", "context_length", "context window", "token limit",
		"too long", "capacity", "overloaded",
	}},
}

var unknown = rule{KindUnknown, false, true, 2 * time.Second, nil}

// Classify maps an error to its failure category using default backoffs.
func Classify(err error) Failure {
	return ClassifyWith(err, nil)
}

// ClassifyWith applies per-category backoff overrides, keyed by Kind.
func ClassifyWith(err error, backoffs map[Kind]time.Duration) Failure {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	lower := strings.ToLower(msg)

	matched := unknown
	for _, r := range rules {
		if r.matches(lower) {
			matched = r
			break
		}
	}

	backoff := matched.backoff
	if override, ok := backoffs[matched.kind]; ok {
		backoff = override
	}

	return Failure{
		Kind:      matched.kind,
		Retriable: matched.retriable,
		Failover:  matched.failover,
		Backoff:   backoff,
		Message:   msg,
	}
}

func (r rule) matches(lower string) bool {
	for _, p := range r.patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
