// Package engine implements the crossfade and transition scheduling core:
// per-layer gain-ramp crossfades between source nodes, and serialized
// multi-layer phase transitions with queuing, pause/resume, and
// cancellation.
package engine

// Layer identifies one of the fixed set of independently faded audio
// channels. Layers are map keys throughout the engine, never owned records.
type Layer string

const (
	Layer1 Layer = "Layer_1"
	Layer2 Layer = "Layer_2"
	Layer3 Layer = "Layer_3"
	Layer4 Layer = "Layer_4"
)

// Layers returns the full fixed layer set in order.
func Layers() []Layer {
	return []Layer{Layer1, Layer2, Layer3, Layer4}
}

// ValidLayer reports whether l is a member of the fixed layer set.
func ValidLayer(l Layer) bool {
	switch l {
	case Layer1, Layer2, Layer3, Layer4:
		return true
	}
	return false
}
