package attestation

import "sync"

// Allowlist holds the set of accepted RTMR3 code-measurement values (spec
// §3 "RTMR3 allowlist"). Three modes: explicit (preloaded), TOFU (locks the
// first successfully-verified value), and open (mock only).
type Allowlist struct {
	mu       sync.Mutex
	explicit map[string]bool
	tofu     bool
	open     bool
	locked   string // TOFU-locked value, empty until the first success
}

// NewExplicit preloads the allowlist with a fixed set of accepted values.
func NewExplicit(values []string) *Allowlist {
	m := make(map[string]bool, len(values))
	for _, v := range values {
		m[normalizeHex(v)] = true
	}
	return &Allowlist{explicit: m}
}

// NewTOFU creates a trust-on-first-use allowlist: empty until the first
// successful verification locks it.
func NewTOFU() *Allowlist {
	return &Allowlist{tofu: true}
}

// NewOpen creates an allowlist that accepts any RTMR3 value. Mock platform only.
func NewOpen() *Allowlist {
	return &Allowlist{open: true}
}

// Check reports whether rtmr3 is accepted under the current mode. In TOFU
// mode, the first call with a value not yet locked succeeds and locks it;
// every subsequent call requires an exact match.
func (a *Allowlist) Check(rtmr3 string) bool {
	if a == nil || a.open {
		return true
	}
	rtmr3 = normalizeHex(rtmr3)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.tofu {
		if a.locked == "" {
			a.locked = rtmr3
			return true
		}
		return a.locked == rtmr3
	}

	if len(a.explicit) == 0 {
		// Empty explicit allowlist: nothing has been configured, so nothing
		// is accepted (spec §4.3 rule 6 only skips the check when the
		// allowlist is non-empty or in open/TOFU mode).
		return false
	}
	return a.explicit[rtmr3]
}

// IsOpen reports whether this allowlist accepts any value.
func (a *Allowlist) IsOpen() bool {
	return a == nil || a.open
}

func normalizeHex(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
