package denoise

import (
	"cmp"
	"fmt"
	"math"
	"slices"
)

// Control represents an editable parameter of a denoise run.
// When Value is modified via ChangeValue the bound setting is updated immediately.
type Control interface {
	// Display/human readable name and description.
	Describe() (name, description string)
	// ActualValue returns the current value of the control.
	ActualValue() any
	// ChangeValue attempts to update the ActualValue to newValue.
	ChangeValue(newValue any) error
}

type ControlOrdered[T cmp.Ordered] struct {
	Name        string
	Description string
	Value       T
	Min         T
	Max         T
	Step        T
	OnChange    func(T) error
}

func (co *ControlOrdered[T]) Describe() (name, description string) {
	return co.Name, co.Description
}
func (co *ControlOrdered[T]) ActualValue() any { return co.Value }
func (co *ControlOrdered[T]) ChangeValue(newValue any) error {
	v, ok := newValue.(T)
	if !ok {
		return fmt.Errorf("new value %T not of type %T", newValue, co.Value)
	}
	// cmp.Less orders NaN below every value so it is out of limits.
	if cmp.Less(v, co.Min) || cmp.Less(co.Max, v) {
		return fmt.Errorf("%s: new value %v exceeds limits %v..%v", co.Name, v, co.Min, co.Max)
	}
	err := co.OnChange(v)
	if err == nil {
		co.Value = v
	}
	return err
}

type integer interface {
	~int | ~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~int8 | ~int16 | ~int32 | ~int64
}

// enum best generated with stringer commands.
type enum interface {
	integer
	fmt.Stringer
}

// ControlEnum maps to dropdown kind of list.
type ControlEnum[T enum] struct {
	Name        string
	Description string
	Value       T
	ValidValues []T
	OnChange    func(T) error
}

func (ce *ControlEnum[T]) Describe() (name, description string) {
	return ce.Name, ce.Description
}
func (ce *ControlEnum[T]) ActualValue() any {
	return ce.Value
}
func (ce *ControlEnum[T]) ChangeValue(newValue any) error {
	v, ok := newValue.(T)
	if !ok {
		return fmt.Errorf("new value %T not of type %T", newValue, ce.Value)
	}
	if !slices.Contains(ce.ValidValues, v) {
		return fmt.Errorf("%s: value %v not valid", ce.Name, v)
	}
	err := ce.OnChange(v)
	if err == nil {
		ce.Value = v
	}
	return err
}

// ControlBool is an on/off toggle.
type ControlBool struct {
	Name        string
	Description string
	Value       bool
	OnChange    func(bool) error
}

func (cb *ControlBool) Describe() (name, description string) {
	return cb.Name, cb.Description
}
func (cb *ControlBool) ActualValue() any { return cb.Value }
func (cb *ControlBool) ChangeValue(newValue any) error {
	v, ok := newValue.(bool)
	if !ok {
		return fmt.Errorf("new value %T not of type bool", newValue)
	}
	err := cb.OnChange(v)
	if err == nil {
		cb.Value = v
	}
	return err
}

// Controls returns controls bound to p's fields. Every parameter accepts
// any positive finite float32.
func (p *Params) Controls() []Control {
	const tiny = math.SmallestNonzeroFloat32
	return []Control{
		&ControlOrdered[float32]{
			Name:        "sigma",
			Description: "Standard deviation of the spatial gaussian in pixels.",
			Value:       p.Sigma,
			Min:         tiny,
			Max:         math.MaxFloat32,
			Step:        0.5,
			OnChange:    func(v float32) error { p.Sigma = v; return nil },
		},
		&ControlOrdered[float32]{
			Name:        "ksigma",
			Description: "Multiplier of sigma giving the sampling radius.",
			Value:       p.KSigma,
			Min:         tiny,
			Max:         math.MaxFloat32,
			Step:        0.5,
			OnChange:    func(v float32) error { p.KSigma = v; return nil },
		},
		&ControlOrdered[float32]{
			Name:        "threshold",
			Description: "Edge sharpening threshold. Lower values preserve more edges.",
			Value:       p.Threshold,
			Min:         tiny,
			Max:         math.MaxFloat32,
			Step:        0.005,
			OnChange:    func(v float32) error { p.Threshold = v; return nil },
		},
	}
}

// Settings is the complete configuration of a denoise run.
type Settings struct {
	Params    Params
	Stage     Stage
	Algorithm Algorithm
	HSV       bool
}

// DefaultSettings returns [DefaultParams] on the compute stage with the smart algorithm.
func DefaultSettings() Settings {
	return Settings{
		Params:    DefaultParams(),
		Stage:     StageCompute,
		Algorithm: AlgorithmSmart,
	}
}

// Controls returns the parameter controls followed by stage, algorithm and hsv controls bound to s.
func (s *Settings) Controls() []Control {
	return append(s.Params.Controls(),
		&ControlEnum[Stage]{
			Name:        "stage",
			Description: "Kernel execution model.",
			Value:       s.Stage,
			ValidValues: stages,
			OnChange:    func(v Stage) error { s.Stage = v; return nil },
		},
		&ControlEnum[Algorithm]{
			Name:        "algorithm",
			Description: "Denoise kernel family.",
			Value:       s.Algorithm,
			ValidValues: algorithms,
			OnChange:    func(v Algorithm) error { s.Algorithm = v; return nil },
		},
		&ControlBool{
			Name:        "hsv",
			Description: "Filter hue and value only, keeping saturation and alpha.",
			Value:       s.HSV,
			OnChange:    func(v bool) error { s.HSV = v; return nil },
		},
	)
}
