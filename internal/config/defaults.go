package config

const (
	defaultDataDir          = "~/.local/share/vigil"
	defaultLogDir           = "~/.local/share/vigil/logs"
	defaultAPIBind          = "127.0.0.1:7787"
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultLogRetentionDays = 60

	defaultMaxFutureSkewSeconds = 300
	defaultIngestQueueCapacity  = 256
	defaultDedupWindowSeconds   = 3600

	defaultTrendHysteresis        = 0.05
	defaultTrendWindowSeconds     = 300
	defaultStaleAfterHours        = 24
	defaultMaxContributingSignals = 50

	defaultDeescalationWindowMinutes = 10
	defaultMaxCaseLifetimeHours      = 72
	defaultTickIntervalSeconds       = 60

	defaultDispatchWorkers       = 2
	defaultDispatchQueueCapacity = 64
	defaultRetryBaseSeconds      = 30
	defaultRetryFactor           = 2
	defaultMaxAttempts           = 5
	defaultSendTimeoutSeconds    = 15

	defaultEngineWorkers       = 4
	defaultEngineQueueCapacity = 128
)

func defaultHalfLifeSeconds() map[string]int {
	return map[string]int{
		"text":       600,
		"voice":      900,
		"biometric":  3600,
		"behavioral": 1800,
	}
}

func defaultSourceWeights() map[string]float64 {
	return map[string]float64{
		"text":       0.35,
		"voice":      0.25,
		"biometric":  0.20,
		"behavioral": 0.20,
	}
}

func defaultEntryThresholds() map[string]float64 {
	return map[string]float64{
		"monitor":            0.30,
		"counselor":          0.60,
		"emergency_contact":  0.80,
		"emergency_services": 0.92,
	}
}

func defaultExitThresholds() map[string]float64 {
	return map[string]float64{
		"monitor":           0.20,
		"counselor":         0.45,
		"emergency_contact": 0.70,
	}
}

func defaultMaxDwellMinutes() map[string]int {
	return map[string]int{
		"monitor":           360,
		"counselor":         240,
		"emergency_contact": 60,
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Ingest: Ingest{
			MaxFutureSkewSeconds: defaultMaxFutureSkewSeconds,
			QueueCapacity:        defaultIngestQueueCapacity,
			DedupWindowSeconds:   defaultDedupWindowSeconds,
		},
		Risk: Risk{
			HalfLifeSeconds:        defaultHalfLifeSeconds(),
			SourceWeights:          defaultSourceWeights(),
			TrendHysteresis:        defaultTrendHysteresis,
			TrendWindowSeconds:     defaultTrendWindowSeconds,
			StaleAfterHours:        defaultStaleAfterHours,
			MaxContributingSignals: defaultMaxContributingSignals,
		},
		Escalation: Escalation{
			EntryThresholds:           defaultEntryThresholds(),
			ExitThresholds:            defaultExitThresholds(),
			MaxDwellMinutes:           defaultMaxDwellMinutes(),
			DeescalationWindowMinutes: defaultDeescalationWindowMinutes,
			MaxCaseLifetimeHours:      defaultMaxCaseLifetimeHours,
			TickIntervalSeconds:       defaultTickIntervalSeconds,
		},
		Dispatch: Dispatch{
			Workers:            defaultDispatchWorkers,
			QueueCapacity:      defaultDispatchQueueCapacity,
			RetryBaseSeconds:   defaultRetryBaseSeconds,
			RetryFactor:        defaultRetryFactor,
			MaxAttempts:        defaultMaxAttempts,
			SendTimeoutSeconds: defaultSendTimeoutSeconds,
		},
		Engine: Engine{
			Workers:       defaultEngineWorkers,
			QueueCapacity: defaultEngineQueueCapacity,
		},
	}
}
