package tracker

// Class is the two-class bucket a raw availability sample falls into.
type Class int

const (
	// ClassAvailable covers statuses that count as present.
	ClassAvailable Class = iota
	// ClassUnavailable covers everything else, including values this
	// version has never seen. Unknown statuses land here on purpose: an
	// unrecognized state is treated as absence, never as presence.
	ClassUnavailable
)

func (c Class) String() string {
	if c == ClassAvailable {
		return "available"
	}
	return "unavailable"
}

// availableStatuses is the exhaustive set of Available-class raw values.
// The provider's remaining statuses (Away, BeRightBack, Busy, DoNotDisturb,
// Offline, PresenceUnknown) all classify as unavailable.
var availableStatuses = map[string]struct{}{
	"Available":     {},
	"AvailableIdle": {},
}

// Classify maps a raw availability string to its class.
func Classify(raw string) Class {
	if _, ok := availableStatuses[raw]; ok {
		return ClassAvailable
	}
	return ClassUnavailable
}
