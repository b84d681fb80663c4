// Package finconfig defines the approval threshold record consumed by the
// approval stage's fallback rules.
package finconfig

// Config holds the monetary thresholds and policy flag for approval
// decisions. It is a read-only value object from the pipeline's point of
// view; the store owns its lifecycle.
type Config struct {
	AutoApproveThreshold  float64 `json:"auto_approve_threshold"`
	ManualReviewThreshold float64 `json:"manual_review_threshold"`
	SpeedPriority         bool    `json:"speed_priority"`
}

// Default returns the record created on first use.
func Default() Config {
	return Config{
		AutoApproveThreshold:  1000,
		ManualReviewThreshold: 5000,
		SpeedPriority:         false,
	}
}
