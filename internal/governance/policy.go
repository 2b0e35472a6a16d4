// Package governance decides which store URLs may be audited.
package governance

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Request contains the context of an audit request to be evaluated.
type Request struct {
	URL    string
	Source string // http, telegram, discord, cli
	ChatID string
}

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Reason string
}

func (r Result) Allowed() bool {
	return r.Effect == EffectAllow
}

// PolicyEngine evaluates audit requests against a set of rules.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// DefaultPolicyEngine denies listed hosts (and their subdomains), URLs
// matching denied patterns and, unless AllowPrivate is set, localhost and
// loopback, private or link-local IP literals.
type DefaultPolicyEngine struct {
	DeniedHosts  map[string]bool
	DeniedRegex  []*regexp.Regexp
	AllowPrivate bool
}

func NewDefaultPolicyEngine() *DefaultPolicyEngine {
	return &DefaultPolicyEngine{
		DeniedHosts: make(map[string]bool),
		DeniedRegex: make([]*regexp.Regexp, 0),
	}
}

func (e *DefaultPolicyEngine) DenyHost(host string) {
	e.DeniedHosts[strings.ToLower(strings.TrimPrefix(host, "www."))] = true
}

func (e *DefaultPolicyEngine) DenyURLs(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	e.DeniedRegex = append(e.DeniedRegex, re)
	return nil
}

func (e *DefaultPolicyEngine) Evaluate(ctx context.Context, req Request) (Result, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return Result{}, fmt.Errorf("failed to parse url %q: %w", req.URL, err)
	}
	if u.Hostname() == "" {
		return Result{}, fmt.Errorf("url %q has no host", req.URL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return deny("Scheme '%s' is not allowed", u.Scheme), nil
	}

	host := strings.ToLower(u.Hostname())
	for h := strings.TrimPrefix(host, "www."); h != ""; {
		if e.DeniedHosts[h] {
			return deny("Host '%s' is restricted by system policy", host), nil
		}
		i := strings.IndexByte(h, '.')
		if i < 0 {
			break
		}
		h = h[i+1:]
	}

	for _, re := range e.DeniedRegex {
		if re.MatchString(req.URL) {
			return deny("URL matches restricted pattern: %s", re.String()), nil
		}
	}

	if !e.AllowPrivate && isPrivateHost(host) {
		return deny("Host '%s' is not a public address", host), nil
	}

	return Result{
		Effect: EffectAllow,
		Reason: "Approved by default policy",
	}, nil
}

func deny(format string, args ...any) Result {
	return Result{Effect: EffectDeny, Reason: fmt.Sprintf(format, args...)}
}

func isPrivateHost(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".internal") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}
