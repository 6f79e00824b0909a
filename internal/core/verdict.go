package core

import "fmt"

// VerdictInput carries every signal known before the URL reputation check
type VerdictInput struct {
	Auth           AuthResult
	SelfSent       bool
	Score          PhishingScore
	HighConfidence bool
}

// FuseVerdict combines header, self-sent and classifier signals.
// Priority: header status, then self-sent forces safe, then a high-confidence
// phishing prediction forces malicious. URL reputation escalates afterwards.
func FuseVerdict(in VerdictInput) (SecurityStatus, SecurityDetails) {
	details := SecurityDetails{
		SPF:      in.Auth.SPF,
		DKIM:     in.Auth.DKIM,
		DMARC:    in.Auth.DMARC,
		NLPCheck: NLPCheckResult(in.Score),
		URLCheck: URLCheck{Pass: true, Details: "No URLs checked."},
	}

	status := in.Auth.Status
	if status == "" {
		status = StatusMalicious
	}

	if in.SelfSent && !in.HighConfidence {
		status = StatusSafe
		details.SelfSent = &CheckResult{
			Pass:    true,
			Details: "Sent from your own address; authentication header results are not applied.",
		}
	}

	if in.HighConfidence {
		status = StatusMalicious
	}

	return status, details
}

// NLPCheckResult renders the classifier sub-verdict
func NLPCheckResult(score PhishingScore) CheckResult {
	switch score.Source {
	case ScoreSkipped:
		return CheckResult{Pass: true, Details: "No content to analyze."}
	case ScoreUnavailable:
		return CheckResult{Pass: true, Details: "NLP service unavailable; treated as not phishing."}
	}
	pct := score.Confidence * 100
	if score.Prediction == 1 {
		return CheckResult{Pass: false, Details: fmt.Sprintf("Potential phishing detected (%.1f%% confidence)", pct)}
	}
	return CheckResult{Pass: true, Details: fmt.Sprintf("No phishing detected (%.1f%% confidence)", pct)}
}
