// Package state holds the shared application state: the readiness gate,
// the detection parameters and the telemetry shown in the UI. Every mutation
// goes through a method so the acquisition, loop and API components never
// touch each other's fields directly.
package state

// AppState bundles the state shared between components.
type AppState struct {
	Gate      *Gate
	Params    *ParamStore
	Telemetry *Telemetry
}

// New returns an AppState with nothing ready and the given parameters.
func New(p Params) *AppState {
	s := &AppState{
		Gate:      NewGate(),
		Params:    NewParamStore(p),
		Telemetry: NewTelemetry(),
	}
	return s
}

// SetVisionReady marks the vision library ready and reports whether the
// loop may now start.
func (s *AppState) SetVisionReady() bool {
	opened := s.Gate.SetVisionReady()
	s.Telemetry.setReadiness(true, s.Gate.StreamReady())
	return opened
}

// SetStreamReady sets the stream signal and reports whether the loop may
// now start.
func (s *AppState) SetStreamReady(ready bool) bool {
	opened := s.Gate.SetStreamReady(ready)
	s.Telemetry.setReadiness(s.Gate.VisionReady(), ready)
	return opened
}
