package relay

import (
	"strings"

	"callrelay/internal/calltrack"
)

// Kind is a notification type tag as stored in the queue.
type Kind string

const (
	KindQueued     Kind = "call_queued"
	KindInitiated  Kind = "call_initiated"
	KindRinging    Kind = "call_ringing"
	KindAnswered   Kind = "call_answered"
	KindInProgress Kind = "call_in_progress"
	KindCompleted  Kind = "call_completed"
	KindFailed     Kind = "call_failed"
	KindBusy       Kind = "call_busy"
	KindNoAnswer   Kind = "call_no_answer"
	KindCanceled   Kind = "call_canceled"

	KindDTMFCaptured     Kind = "dtmf_captured"
	KindTranscriptReady  Kind = "transcript_ready"
	KindVerificationStep Kind = "verification_step"
)

const statusKindPrefix = "call_"

// Route is where a notification goes. Informational routes are not status
// transitions and bypass the status tracker.
type Route struct {
	Kind          Kind
	Status        calltrack.Status
	Informational bool
	Generic       bool // status derived from an unrecognized tag
}

// Classify maps a notification type to its route. It never fails: unknown
// tags take the generic status path with the "call_" prefix stripped.
func Classify(k Kind) Route {
	switch k {
	case KindQueued:
		return Route{Kind: k, Status: calltrack.StatusQueued}
	case KindInitiated:
		return Route{Kind: k, Status: calltrack.StatusInitiated}
	case KindRinging:
		return Route{Kind: k, Status: calltrack.StatusRinging}
	case KindAnswered:
		return Route{Kind: k, Status: calltrack.StatusAnswered}
	case KindInProgress:
		return Route{Kind: k, Status: calltrack.StatusInProgress}
	case KindCompleted:
		return Route{Kind: k, Status: calltrack.StatusCompleted}
	case KindFailed:
		return Route{Kind: k, Status: calltrack.StatusFailed}
	case KindBusy:
		return Route{Kind: k, Status: calltrack.StatusBusy}
	case KindNoAnswer:
		return Route{Kind: k, Status: calltrack.StatusNoAnswer}
	case KindCanceled:
		return Route{Kind: k, Status: calltrack.StatusCanceled}
	case KindDTMFCaptured, KindTranscriptReady, KindVerificationStep:
		return Route{Kind: k, Informational: true}
	default:
		label := strings.TrimPrefix(strings.TrimSpace(strings.ToLower(string(k))), statusKindPrefix)
		label = strings.ReplaceAll(label, "_", "-")
		if label == "" {
			label = "unknown"
		}
		return Route{Kind: k, Status: calltrack.Status(label), Generic: true}
	}
}
