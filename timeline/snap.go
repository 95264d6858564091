package timeline

import (
	"math"

	"github.com/golang/glog"
	"github.com/riffline/riffline"
	"github.com/viterin/vek"
)

type (
	// Snapper computes the magnetic position for a candidate time: the
	// nearest beat, or the nearest edge of another item on the same track,
	// whichever is closer, provided it is within the threshold.
	Snapper struct {
		SecondsPerBeat float64
		// ThresholdBeats is the magnetic range, in beats. Zero means the
		// default of a quarter beat.
		ThresholdBeats float64
		// Overlay supplies virtual edges for a backing track that does not
		// have chord items of its own yet. May be nil.
		Overlay Overlay
	}

	// Overlay supplies the edges of the chord overlay drawn over the backing
	// track, in seconds.
	Overlay interface {
		OverlayEdges() []float64
	}

	// OverlayFunc adapts a function to the Overlay interface.
	OverlayFunc func() []float64
)

// DefaultSnapThresholdBeats is the default magnetic range: a quarter beat.
const DefaultSnapThresholdBeats = 0.25

func (f OverlayFunc) OverlayEdges() []float64 { return f() }

// Threshold returns the magnetic range in seconds.
func (s Snapper) Threshold() float64 {
	beats := s.ThresholdBeats
	if beats <= 0 {
		beats = DefaultSnapThresholdBeats
	}
	return beats * s.SecondsPerBeat
}

// Snap returns the snapped time for candidate on the given track. items are
// the items on the track; the item with id excluded (the one being moved) is
// ignored. All candidates are evaluated and the one with the smallest
// deviation wins, so a close clip edge overrides a farther grid line. If no
// candidate is within the threshold, candidate is returned unchanged.
func (s Snapper) Snap(candidate float64, track riffline.Track, items []riffline.Item, excluded string) float64 {
	if s.SecondsPerBeat <= 0 || math.IsNaN(candidate) {
		return candidate
	}
	targets := []float64{math.Round(candidate/s.SecondsPerBeat) * s.SecondsPerBeat}
	hasChords := false
	for _, it := range items {
		if it.Kind == riffline.ChordItem {
			hasChords = true
		}
		if it.ID == excluded {
			continue
		}
		targets = append(targets, it.StartTime, it.End())
	}
	if track.Kind == riffline.BackingTrack && !hasChords && s.Overlay != nil {
		targets = append(targets, s.Overlay.OverlayEdges()...)
	}
	deviations := vek.Abs(vek.SubNumber(targets, candidate))
	best := vek.ArgMin(deviations)
	if deviations[best] > s.Threshold() {
		return candidate
	}
	glog.V(2).Infof("[snap]%.3f->%.3f (%d candidates)", candidate, targets[best], len(targets))
	return math.Max(0, targets[best])
}
