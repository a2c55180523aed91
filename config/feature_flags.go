package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags manages feature toggles with gradual, per-user rollout.
type FeatureFlags struct {
	mu       sync.RWMutex
	features map[string]*Feature

	// userOverrides: user id -> feature -> enabled
	userOverrides map[string]map[string]bool
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// RolloutPercent (0-100) assigns users by a hash of their id.
	RolloutPercent int
}

// Predefined feature flag names.
const (
	// FeatureDashboardCache serves dashboard stats from Redis. Rolled out per user.
	FeatureDashboardCache = "dashboard_cache"

	// FeatureAnalyticsRelay forwards committed events over Redis pub/sub.
	FeatureAnalyticsRelay = "analytics_relay"

	// FeatureLevelReconcile enables the nightly level reconciliation job.
	FeatureLevelReconcile = "level_reconcile"

	// FeatureThresholdRefresh enables the periodic threshold reload job.
	FeatureThresholdRefresh = "threshold_refresh"
)

// LoadFeatureFlags loads defaults and applies FEATURE_<NAME> overrides.
// An override is a boolean or a rollout percentage.
func LoadFeatureFlags() (*FeatureFlags, error) {
	ff := NewFeatureFlags()
	if err := ff.loadFromEnvironment(); err != nil {
		return ff, err
	}
	return ff, nil
}

// NewFeatureFlags returns the defaults without reading the environment.
func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:      make(map[string]*Feature),
		userOverrides: make(map[string]map[string]bool),
	}

	ff.features[FeatureDashboardCache] = &Feature{
		Name:           FeatureDashboardCache,
		Description:    "Cache dashboard stats in Redis",
		Enabled:        true,
		RolloutPercent: 100,
	}
	ff.features[FeatureAnalyticsRelay] = &Feature{
		Name:           FeatureAnalyticsRelay,
		Description:    "Relay progression events to analytics over Redis pub/sub",
		Enabled:        false,
		RolloutPercent: 0,
	}
	ff.features[FeatureLevelReconcile] = &Feature{
		Name:           FeatureLevelReconcile,
		Description:    "Raise stale profile levels after threshold edits",
		Enabled:        true,
		RolloutPercent: 100,
	}
	ff.features[FeatureThresholdRefresh] = &Feature{
		Name:           FeatureThresholdRefresh,
		Description:    "Reload the level threshold table periodically",
		Enabled:        true,
		RolloutPercent: 100,
	}

	return ff
}

// loadFromEnvironment applies overrides.
// Example: FEATURE_DASHBOARD_CACHE=false, FEATURE_DASHBOARD_CACHE=25
func (ff *FeatureFlags) loadFromEnvironment() error {
	var bad []string
	for name, feature := range ff.features {
		envKey := featureNameToEnvKey(name)
		val := strings.TrimSpace(os.Getenv(envKey))
		if val == "" {
			continue
		}

		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			feature.RolloutPercent = 0
			if b {
				feature.RolloutPercent = 100
			}
			continue
		}

		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			feature.Enabled = p > 0
			feature.RolloutPercent = p
			continue
		}

		bad = append(bad, fmt.Sprintf("%s: want a boolean or 0-100, got %q", envKey, val))
	}

	if len(bad) > 0 {
		sort.Strings(bad)
		return fmt.Errorf("%s", strings.Join(bad, "; "))
	}
	return nil
}

// featureNameToEnvKey converts "dashboard_cache" to "FEATURE_DASHBOARD_CACHE".
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled reports whether a feature is on at all (any rollout above zero).
func (ff *FeatureFlags) IsEnabled(featureName string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	feature, ok := ff.features[featureName]
	return ok && feature.Enabled && feature.RolloutPercent > 0
}

// IsEnabledFor checks a feature for one user. Overrides win; otherwise the
// user is in the rollout when the hash of (feature, user) falls below the
// percentage, so a user keeps their bucket across restarts.
func (ff *FeatureFlags) IsEnabledFor(featureName, userID string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if overrides, ok := ff.userOverrides[userID]; ok {
		if enabled, ok := overrides[featureName]; ok {
			return enabled
		}
	}

	feature, ok := ff.features[featureName]
	if !ok || !feature.Enabled {
		return false
	}
	if feature.RolloutPercent >= 100 {
		return true
	}
	if userID == "" {
		return false
	}
	return rolloutBucket(featureName, userID) < feature.RolloutPercent
}

// Gate returns a func suitable for Enabled hooks of jobs and the relay.
func (ff *FeatureFlags) Gate(featureName string) func() bool {
	return func() bool { return ff.IsEnabled(featureName) }
}

// rolloutBucket maps (feature, user) to 0-99.
func rolloutBucket(featureName, userID string) int {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(userID))
	return int(h.Sum32() % 100)
}

// SetUserOverride sets a feature override for a specific user.
func (ff *FeatureFlags) SetUserOverride(userID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.userOverrides[userID]; !ok {
		ff.userOverrides[userID] = make(map[string]bool)
	}
	ff.userOverrides[userID][featureName] = enabled
}

// ClearUserOverrides removes all overrides for a user.
func (ff *FeatureFlags) ClearUserOverrides(userID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.userOverrides, userID)
}

// SetRolloutPercent updates the rollout percentage for a feature.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0
	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature completely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// GetAllFeatures returns a copy of all feature configurations.
func (ff *FeatureFlags) GetAllFeatures() map[string]Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make(map[string]Feature, len(ff.features))
	for k, v := range ff.features {
		result[k] = *v
	}
	return result
}

// --- Errors ---

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
