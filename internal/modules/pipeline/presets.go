package pipeline

import "time"

// Timing bundles the pacing constants of the streaming engine.
type Timing struct {
	// Cooldown is enforced between the previous narration's completion
	// and the next stream start.
	Cooldown time.Duration
	// PostNarrationPause delays the return to idle after completion.
	PostNarrationPause time.Duration
	// Watchdog is the maximum wait for the first chunk.
	Watchdog time.Duration
	// MinRequestInterval enforces the upstream RPM ceiling.
	MinRequestInterval time.Duration
	// SchedulerTick drives the queue polling loop.
	SchedulerTick time.Duration
}

// Backoff delays per upstream failure class.
const (
	backoffRateLimit = 10 * time.Second
	backoffOverload  = 5 * time.Second
	backoffGeneric   = 1 * time.Second
)

// presets are the selectable pacing bundles. "normal" is the default.
var presets = map[string]Timing{
	"fast": {
		Cooldown:           1 * time.Second,
		PostNarrationPause: 500 * time.Millisecond,
		Watchdog:           10 * time.Second,
		MinRequestInterval: 2 * time.Second,
		SchedulerTick:      500 * time.Millisecond,
	},
	"normal": {
		Cooldown:           3 * time.Second,
		PostNarrationPause: 2 * time.Second,
		Watchdog:           10 * time.Second,
		MinRequestInterval: 3 * time.Second,
		SchedulerTick:      1 * time.Second,
	},
	"professional": {
		Cooldown:           5 * time.Second,
		PostNarrationPause: 3 * time.Second,
		Watchdog:           10 * time.Second,
		MinRequestInterval: 4 * time.Second,
		SchedulerTick:      1 * time.Second,
	},
	"slow": {
		Cooldown:           8 * time.Second,
		PostNarrationPause: 5 * time.Second,
		Watchdog:           15 * time.Second,
		MinRequestInterval: 6 * time.Second,
		SchedulerTick:      2 * time.Second,
	},
	"deliberate": {
		Cooldown:           12 * time.Second,
		PostNarrationPause: 8 * time.Second,
		Watchdog:           15 * time.Second,
		MinRequestInterval: 10 * time.Second,
		SchedulerTick:      2 * time.Second,
	},
}

// PresetNames lists the selectable presets.
func PresetNames() []string {
	return []string{"fast", "normal", "professional", "slow", "deliberate"}
}

// PresetTiming resolves a preset name, falling back to "normal".
func PresetTiming(name string) Timing {
	if t, ok := presets[name]; ok {
		return t
	}
	return presets["normal"]
}

// WithRPM caps MinRequestInterval so the engine never exceeds the
// configured requests-per-minute ceiling.
func (t Timing) WithRPM(rpm int) Timing {
	if rpm <= 0 {
		return t
	}
	floor := time.Minute / time.Duration(rpm)
	if floor > t.MinRequestInterval {
		t.MinRequestInterval = floor
	}
	return t
}
