package discovery

// Static listings shipped with the binary. They are the floor the
// service degrades to when both the snapshot and the remote API are
// unavailable; keep them in sync with the published document set.

var staticMitigations = []string{
	"1_limit-unneeded-data.md",
	"2_input-validation.md",
	"3_output-encoding.md",
	"4_least-privilege-model-access.md",
	"5_adversarial-training.md",
	"6_rate-limiting.md",
	"7_monitor-model-io.md",
}

var staticRisks = []string{
	"1_prompt-injection.md",
	"2_sensitive-data-disclosure.md",
	"3_supply-chain.md",
	"4_model-theft.md",
	"5_insecure-output-handling.md",
	"6_excessive-agency.md",
	"7_evasion.md",
	"8_membership-inference.md",
	"9_data-poisoning.md",
	"10_denial-of-model-service.md",
}

var staticFrameworks = []string{
	"owasp-llm-top10.md",
	"nist-ai-rmf.md",
	"mitre-atlas.md",
	"iso-42001.md",
}

func staticFiles(names []string) []FileInfo {
	out := make([]FileInfo, len(names))
	for i, n := range names {
		out[i] = FileInfo{Name: n}
	}
	return out
}

// staticFallback returns the built-in listing. This path never fails.
func staticFallback() Result {
	return Result{
		Mitigations: staticFiles(staticMitigations),
		Risks:       staticFiles(staticRisks),
		Frameworks:  staticFiles(staticFrameworks),
		Source:      SourceStatic,
	}
}
