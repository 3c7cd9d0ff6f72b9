// Package detect turns one frame's raw detections into labeled, filtered
// detections and per-class presence counts.
package detect

import "fmt"

// Box is a bounding box in normalized image-fraction coordinates.
type Box struct {
	XMin float64 `json:"x_min"`
	YMin float64 `json:"y_min"`
	XMax float64 `json:"x_max"`
	YMax float64 `json:"y_max"`
}

// Detection is one candidate object reported by the inference step.
type Detection struct {
	ClassID    int     `json:"class_id"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// Labeled is a detection that survived filtering, with its resolved class.
// Tracked is false for render-only detections, which never count toward
// presence.
type Labeled struct {
	Detection
	Class   string `json:"class_name"`
	Tracked bool   `json:"tracked"`
}

// VOCClasses is the label set of the MobileNet-SSD Caffe model.
var VOCClasses = ClassTable{
	"background",
	"aeroplane",
	"bicycle",
	"bird",
	"boat",
	"bottle",
	"bus",
	"car",
	"cat",
	"chair",
	"cow",
	"diningtable",
	"dog",
	"horse",
	"motorbike",
	"person",
	"pottedplant",
	"sheep",
	"sofa",
	"train",
	"tvmonitor",
}

// ClassTable maps class indices to names. It is fixed at startup.
type ClassTable []string

// Name resolves a class index.
func (t ClassTable) Name(id int) (string, error) {
	if id < 0 || id >= len(t) {
		return "", &ClassificationError{ClassID: id, TableSize: len(t)}
	}
	return t[id], nil
}

// Index returns the position of name in the table, or -1.
func (t ClassTable) Index(name string) int {
	for i, n := range t {
		if n == name {
			return i
		}
	}
	return -1
}

// ClassificationError reports a detection whose class index is not in the
// class table.
type ClassificationError struct {
	ClassID   int
	TableSize int
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("class index %d outside class table (size %d)", e.ClassID, e.TableSize)
}
