package gate

import (
	"context"
	"fmt"
	"strings"
)

const (
	PolicyDefer     = "defer"
	PolicyAllowList = "allowlist"
)

// Policy decides whether a well-formed code unlocks the form.
type Policy interface {
	Check(ctx context.Context, code string) error
}

// DeferPolicy accepts every well-formed code.
type DeferPolicy struct{}

func (DeferPolicy) Check(ctx context.Context, code string) error {
	return nil
}

// AllowListPolicy accepts only the configured codes.
type AllowListPolicy struct {
	codes map[string]struct{}
}

// NewAllowListPolicy normalises codes; malformed entries are an error so a
// typo in configuration is caught at startup.
func NewAllowListPolicy(codes []string) (*AllowListPolicy, error) {
	set := make(map[string]struct{}, len(codes))
	for _, raw := range codes {
		code := NormalizeCode(raw)
		if code == "" {
			continue
		}
		if err := CheckFormat(code); err != nil {
			return nil, fmt.Errorf("invalid gate code %q in allow-list: %w", raw, err)
		}
		set[code] = struct{}{}
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("allow-list gate policy requires at least one code")
	}
	return &AllowListPolicy{codes: set}, nil
}

func (p *AllowListPolicy) Check(ctx context.Context, code string) error {
	if _, ok := p.codes[NormalizeCode(code)]; !ok {
		return errNotRecognise
	}
	return nil
}

// NewPolicy builds the policy named in configuration.
func NewPolicy(name string, codes []string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyDefer:
		return DeferPolicy{}, nil
	case PolicyAllowList:
		return NewAllowListPolicy(codes)
	default:
		return nil, fmt.Errorf("unknown gate policy: %s", name)
	}
}
