// Package classifier decides whether a packet's source address is inside the
// trusted range.
package classifier

import (
	"fmt"
	"net/netip"
	"strings"
)

// Verdict is the outcome of classifying a source address.
type Verdict int

const (
	Suspicious Verdict = iota
	Trusted
)

func (v Verdict) String() string {
	if v == Trusted {
		return "trusted"
	}
	return "suspicious"
}

// DefaultTrustedRange is the range trusted when nothing else is configured.
const DefaultTrustedRange = "192.168.0.0/16"

// Predicate reports whether addr belongs to the trusted range.
type Predicate interface {
	Trusted(addr netip.Addr) bool
}

// Classify returns the verdict for a textual source address. It never fails:
// input that does not parse as an IP address, or a nil predicate, is Suspicious.
func Classify(source string, p Predicate) Verdict {
	addr, err := netip.ParseAddr(strings.TrimSpace(source))
	if err != nil {
		return Suspicious
	}
	return ClassifyAddr(addr, p)
}

// ClassifyAddr is Classify for an already parsed address.
func ClassifyAddr(addr netip.Addr, p Predicate) Verdict {
	if !addr.IsValid() || p == nil {
		return Suspicious
	}
	if p.Trusted(addr.Unmap()) {
		return Trusted
	}
	return Suspicious
}

// PrefixPredicate trusts addresses contained in any of its prefixes.
type PrefixPredicate struct {
	prefixes []netip.Prefix
}

// NewPrefixPredicate builds a predicate over prefixes.
func NewPrefixPredicate(prefixes ...netip.Prefix) PrefixPredicate {
	out := make([]netip.Prefix, 0, len(prefixes))
	for _, p := range prefixes {
		out = append(out, p.Masked())
	}
	return PrefixPredicate{prefixes: out}
}

// DefaultPredicate trusts DefaultTrustedRange.
func DefaultPredicate() PrefixPredicate {
	return NewPrefixPredicate(netip.MustParsePrefix(DefaultTrustedRange))
}

// Trusted implements Predicate.
func (p PrefixPredicate) Trusted(addr netip.Addr) bool {
	for _, prefix := range p.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// Prefixes returns a copy of the predicate's prefixes.
func (p PrefixPredicate) Prefixes() []netip.Prefix {
	out := make([]netip.Prefix, len(p.prefixes))
	copy(out, p.prefixes)
	return out
}

// ParsePrefixes parses CIDR prefixes or bare addresses (taken as a single
// host prefix).
func ParsePrefixes(entries []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(entries))
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid prefix %q: %w", entry, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", entry, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// ListPredicate layers allow and deny lists over a base predicate. Deny wins
// over allow, and allow wins over the base range.
type ListPredicate struct {
	Base  Predicate
	Allow []netip.Prefix
	Deny  []netip.Prefix
}

// Trusted implements Predicate.
func (lp ListPredicate) Trusted(addr netip.Addr) bool {
	for _, p := range lp.Deny {
		if p.Contains(addr) {
			return false
		}
	}
	for _, p := range lp.Allow {
		if p.Contains(addr) {
			return true
		}
	}
	return lp.Base != nil && lp.Base.Trusted(addr)
}
