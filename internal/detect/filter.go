package detect

import "github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/logger"

var log = logger.For("Filter")

// Rules holds the immutable filtering configuration.
type Rules struct {
	Table     ClassTable
	Chosen    []string
	Threshold float64

	// AnnotateAll keeps non-chosen classes as render-only detections
	// instead of dropping them.
	AnnotateAll bool
}

func (r Rules) chosen(name string) bool {
	for _, c := range r.Chosen {
		if c == name {
			return true
		}
	}
	return false
}

// Filter drops weak, unknown and non-chosen detections. Survivors keep
// their input order. Unknown class indices are logged and returned so the
// caller can count them; they never abort the frame.
func Filter(detections []Detection, rules Rules) ([]Labeled, []error) {
	var (
		kept []Labeled
		errs []error
	)

	for _, d := range detections {
		// Equal to the threshold is not enough.
		if !(d.Confidence > rules.Threshold) {
			continue
		}

		name, err := rules.Table.Name(d.ClassID)
		if err != nil {
			log.Warn("Dropping detection: %v", err)
			errs = append(errs, err)
			continue
		}

		tracked := rules.chosen(name)
		if !tracked && !rules.AnnotateAll {
			continue
		}

		kept = append(kept, Labeled{Detection: d, Class: name, Tracked: tracked})
	}

	return kept, errs
}
