// Package labels defines the reserved peak label codes. Non-negative
// labels are cluster labels; every reserved code is negative so a
// `label >= 0` test separates real clusters from bookkeeping states.
package labels

const (
	// Trash marks peaks discarded by the operator or rejected as clusterer noise.
	Trash int64 = -1
	// Noise tags noise snippet index records.
	Noise int64 = -2
	// Alien marks peaks explained by no catalogue template.
	Alien int64 = -9
	// Unclassified is the label of every freshly detected peak.
	Unclassified int64 = -10
)

// IsCluster reports whether label is a real cluster label.
func IsCluster(label int64) bool { return label >= 0 }

// Name returns a short human name for a label.
func Name(label int64) string {
	switch label {
	case Trash:
		return "trash"
	case Noise:
		return "noise"
	case Alien:
		return "alien"
	case Unclassified:
		return "unclassified"
	}
	if label >= 0 {
		return "cluster"
	}
	return "reserved"
}
