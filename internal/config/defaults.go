package config

import "time"

// defaultActivity returns the built-in activity defaults, merged under
// whatever the operator's activity.yaml supplies.
func defaultActivity() Activity {
	return Activity{
		Enabled: true,
		GlobalLimits: GlobalLimits{
			MaxInflightPerUser: 1,
			QueueMaxLength:     500,
			WorkerConcurrency:  4,
		},
		LLM: LLMConfig{
			TimeoutSeconds:         30,
			DefaultMaxOutputTokens: 512,
		},
	}
}

// defaultLimits returns the built-in per-level limits defaults.
func defaultLimits() LimitsConfig {
	return LimitsConfig{
		MaxInputChars:            2000,
		MaxTurns:                 3,
		CooldownSecondsAfterFail: 30,
		MaxOutputTokens:          512,
		MaxLineCount:             50,
		MaxRepeatRun:             30,
	}
}

// resolveDurations fills in time.Duration fields derived from the YAML's
// plain integer seconds, once at load time rather than on every use.
func resolveDurations(a *Activity) {
	a.LLM.Timeout = time.Duration(a.LLM.TimeoutSeconds) * time.Second
}
