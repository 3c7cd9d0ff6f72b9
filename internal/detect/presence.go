package detect

// PresenceCount is the number of tracked detections per class in one frame.
type PresenceCount map[string]int

// Count returns the count for class, treating a missing key as zero.
func (p PresenceCount) Count(class string) int {
	return p[class]
}

// Present reports whether class was seen at least once.
func (p PresenceCount) Present(class string) bool {
	return p[class] > 0
}

// Aggregate counts tracked detections per class. Every tracked class has an
// entry, zero when unseen. Render-only detections are ignored.
func Aggregate(filtered []Labeled, tracked []string) PresenceCount {
	counts := make(PresenceCount, len(tracked))
	for _, class := range tracked {
		counts[class] = 0
	}

	for _, l := range filtered {
		if !l.Tracked {
			continue
		}
		if _, ok := counts[l.Class]; ok {
			counts[l.Class]++
		}
	}

	return counts
}
