package headers

import (
	"testing"

	"github.com/mikey/mail-sentinel/internal/core"
)

func hdrs(kv ...string) []core.Header {
	var out []core.Header
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, core.Header{Name: kv[i], Value: kv[i+1]})
	}
	return out
}

func TestAuthenticateAllPass(t *testing.T) {
	a := NewAuthenticator(PolicyFailClosed)
	res := a.Authenticate(hdrs(
		"authentication-results", "mx.google.com; spf=pass smtp.mailfrom=a.com; dkim=pass header.d=a.com; dmarc=pass (p=NONE)",
	))

	if !res.SPF.Pass || !res.DKIM.Pass || !res.DMARC.Pass {
		t.Fatalf("expected all pass, got %+v", res)
	}
	if res.Status != core.StatusSafe {
		t.Errorf("Status = %s, want safe", res.Status)
	}
}

func TestAuthenticateStatusIsConjunction(t *testing.T) {
	values := []string{"pass", "fail"}
	a := NewAuthenticator(PolicyFailClosed)
	for _, spf := range values {
		for _, dkim := range values {
			for _, dmarc := range values {
				res := a.Authenticate(hdrs("Authentication-Results",
					"spf="+spf+" dkim="+dkim+" dmarc="+dmarc))
				allPass := spf == "pass" && dkim == "pass" && dmarc == "pass"
				if (res.Status == core.StatusSafe) != allPass {
					t.Errorf("spf=%s dkim=%s dmarc=%s: status %s", spf, dkim, dmarc, res.Status)
				}
			}
		}
	}
}

func TestAuthenticateARCFallback(t *testing.T) {
	a := NewAuthenticator(PolicyFailClosed)
	res := a.Authenticate(hdrs("ARC-Authentication-Results", "i=1; spf=pass; dkim=pass; dmarc=fail"))

	if !res.SPF.Pass || !res.DKIM.Pass {
		t.Errorf("expected spf and dkim pass from ARC header: %+v", res)
	}
	if res.DMARC.Pass || res.DMARC.Details != "fail" {
		t.Errorf("DMARC = %+v, want fail", res.DMARC)
	}
	if res.Status != core.StatusMalicious {
		t.Errorf("Status = %s", res.Status)
	}
}

func TestAuthenticateSoftfailIsNotPass(t *testing.T) {
	a := NewAuthenticator(PolicyFailClosed)
	res := a.Authenticate(hdrs("Authentication-Results", "spf=softfail dkim=pass dmarc=pass"))
	if res.SPF.Pass {
		t.Error("softfail must not pass")
	}
	if res.SPF.Details != "softfail" {
		t.Errorf("details = %q", res.SPF.Details)
	}
}

func TestAuthenticateFallbackHeaders(t *testing.T) {
	a := NewAuthenticator(PolicyFailClosed)
	res := a.Authenticate(hdrs(
		"Authentication-Results", "dmarc=pass",
		"DKIM-Signature", "v=1; a=rsa-sha256; d=example.com",
		"Received-SPF", "Pass (google.com: domain of a@example.com designates 1.2.3.4)",
	))
	if !res.DKIM.Pass || res.DKIM.Details != "signature present" {
		t.Errorf("DKIM = %+v", res.DKIM)
	}
	if !res.SPF.Pass {
		t.Errorf("SPF = %+v", res.SPF)
	}
	if res.Status != core.StatusSafe {
		t.Errorf("Status = %s", res.Status)
	}

	res = a.Authenticate(hdrs("X-Google-DKIM-Signature", "v=1", "Received-SPF", "neutral (no record)"))
	if !res.DKIM.Pass {
		t.Errorf("provider signature header should count: %+v", res.DKIM)
	}
	if res.SPF.Pass || res.SPF.Details != "neutral" {
		t.Errorf("SPF = %+v", res.SPF)
	}
}

func TestAuthenticateUndeterminedFailClosed(t *testing.T) {
	a := NewAuthenticator(PolicyFailClosed)
	res := a.Authenticate(hdrs("Subject", "hello"))

	want := core.AuthResult{
		SPF:    core.CheckResult{Pass: false, Details: "unknown"},
		DKIM:   core.CheckResult{Pass: false, Details: "none"},
		DMARC:  core.CheckResult{Pass: false, Details: "none"},
		Status: core.StatusMalicious,
	}
	if res != want {
		t.Errorf("got %+v, want %+v", res, want)
	}
}

func TestAuthenticateUndeterminedAssumePass(t *testing.T) {
	a := NewAuthenticator(PolicyAssumePass)
	res := a.Authenticate(nil)
	if !res.SPF.Pass || !res.DKIM.Pass || !res.DMARC.Pass {
		t.Fatalf("expected assumed pass, got %+v", res)
	}
	if res.Status != core.StatusSafe {
		t.Errorf("Status = %s", res.Status)
	}

	// explicit failures are still failures
	res = a.Authenticate(hdrs("Authentication-Results", "spf=fail"))
	if res.SPF.Pass || res.Status != core.StatusMalicious {
		t.Errorf("got %+v", res)
	}
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]UndeterminedPolicy{
		"":            PolicyFailClosed,
		"fail":        PolicyFailClosed,
		"ASSUME_PASS": PolicyAssumePass,
	} {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParsePolicy("maybe"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
