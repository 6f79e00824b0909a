// Package headers derives SPF, DKIM and DMARC verdicts from the
// Authentication-Results style headers stamped by the receiving provider.
package headers

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mikey/mail-sentinel/internal/core"
)

// UndeterminedPolicy decides the verdict of a mechanism no header speaks about
type UndeterminedPolicy string

const (
	// PolicyFailClosed treats an undetermined mechanism as failed
	PolicyFailClosed UndeterminedPolicy = "fail"
	// PolicyAssumePass treats an undetermined mechanism as passed
	PolicyAssumePass UndeterminedPolicy = "assume_pass"
)

// ParsePolicy maps a configured policy name; empty selects PolicyFailClosed
func ParsePolicy(name string) (UndeterminedPolicy, error) {
	switch UndeterminedPolicy(strings.ToLower(strings.TrimSpace(name))) {
	case "", PolicyFailClosed:
		return PolicyFailClosed, nil
	case PolicyAssumePass:
		return PolicyAssumePass, nil
	default:
		return "", fmt.Errorf("unknown undetermined header policy: %q", name)
	}
}

var (
	spfPattern   = regexp.MustCompile(`(?i)\bspf=([a-zA-Z]+)`)
	dkimPattern  = regexp.MustCompile(`(?i)\bdkim=([a-zA-Z]+)`)
	dmarcPattern = regexp.MustCompile(`(?i)\bdmarc=([a-zA-Z]+)`)
)

var dkimSignatureHeaders = []string{"DKIM-Signature", "X-Google-DKIM-Signature"}

// Authenticator implements core.HeaderAuthenticator
type Authenticator struct {
	policy UndeterminedPolicy
}

// NewAuthenticator creates an authenticator applying policy to undetermined mechanisms
func NewAuthenticator(policy UndeterminedPolicy) *Authenticator {
	if policy == "" {
		policy = PolicyFailClosed
	}
	return &Authenticator{policy: policy}
}

// Policy returns the policy in effect
func (a *Authenticator) Policy() UndeterminedPolicy {
	return a.policy
}

// mechanism is the verdict of one mechanism while it may still be undetermined
type mechanism struct {
	result  core.CheckResult
	decided bool
}

func (m *mechanism) set(pass bool, details string) {
	m.result = core.CheckResult{Pass: pass, Details: details}
	m.decided = true
}

// Authenticate never fails; malformed or missing headers fall through to the policy
func (a *Authenticator) Authenticate(headers []core.Header) core.AuthResult {
	lookup := make(map[string]string, len(headers))
	for _, h := range headers {
		key := strings.ToLower(h.Name)
		if _, seen := lookup[key]; !seen {
			lookup[key] = h.Value
		}
	}

	var spf, dkim, dmarc mechanism

	results := lookup["authentication-results"]
	if results == "" {
		results = lookup["arc-authentication-results"]
	}
	if results != "" {
		applyToken(&spf, spfPattern, results)
		applyToken(&dkim, dkimPattern, results)
		applyToken(&dmarc, dmarcPattern, results)
	}

	// A signature header only shows that the sender signed the message,
	// not that the signature verified.
	if !dkim.decided {
		for _, name := range dkimSignatureHeaders {
			if _, ok := lookup[strings.ToLower(name)]; ok {
				dkim.set(true, "signature present")
				break
			}
		}
	}

	if !spf.decided {
		if received, ok := lookup["received-spf"]; ok && strings.TrimSpace(received) != "" {
			lower := strings.ToLower(received)
			if strings.Contains(lower, "pass") {
				spf.set(true, "pass")
			} else {
				spf.set(false, firstWord(lower))
			}
		}
	}

	out := core.AuthResult{
		SPF:   a.finalize(spf, "unknown"),
		DKIM:  a.finalize(dkim, "none"),
		DMARC: a.finalize(dmarc, "none"),
	}
	out.Status = core.StatusMalicious
	if out.SPF.Pass && out.DKIM.Pass && out.DMARC.Pass {
		out.Status = core.StatusSafe
	}
	return out
}

func (a *Authenticator) finalize(m mechanism, undetermined string) core.CheckResult {
	if m.decided {
		return m.result
	}
	if a.policy == PolicyAssumePass {
		return core.CheckResult{Pass: true, Details: undetermined + " (assumed pass)"}
	}
	return core.CheckResult{Pass: false, Details: undetermined}
}

func applyToken(m *mechanism, pattern *regexp.Regexp, results string) {
	match := pattern.FindStringSubmatch(results)
	if match == nil {
		return
	}
	value := strings.ToLower(match[1])
	m.set(value == "pass", value)
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return "unknown"
	}
	return strings.Trim(fields[0], ";:()")
}
