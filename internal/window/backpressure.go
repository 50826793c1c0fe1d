package window

// BackpressureLevel classifies how loaded the admission path is.
type BackpressureLevel string

const (
	// BackpressureOK means the caller may submit freely.
	BackpressureOK BackpressureLevel = "ok"

	// BackpressureSlow means the caller should slow its submission rate.
	BackpressureSlow BackpressureLevel = "slow"

	// BackpressureReject means new work should be refused outright.
	BackpressureReject BackpressureLevel = "reject"
)

// Default backpressure thresholds in pending tokens.
const (
	DefaultBackpressureOK     = 2000
	DefaultBackpressureReject = 5000
)

// ClassifyBackpressure maps a pending-token count to a backpressure level.
// Pure and stateless; thresholds are caller-supplied so different transports
// can tune their own envelopes. thresholdOK must be below thresholdReject;
// callers passing an inverted pair get reject-dominant behavior, which fails
// safe.
func ClassifyBackpressure(pendingTokens int64, thresholdOK, thresholdReject int64) BackpressureLevel {
	switch {
	case pendingTokens >= thresholdReject:
		return BackpressureReject
	case pendingTokens >= thresholdOK:
		return BackpressureSlow
	default:
		return BackpressureOK
	}
}
