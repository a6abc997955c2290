package denoise

import (
	"math"
	"testing"
)

func TestSettingsControls(t *testing.T) {
	s := DefaultSettings()
	ctls := s.Controls()
	byName := make(map[string]Control)
	for _, c := range ctls {
		name, desc := c.Describe()
		if desc == "" {
			t.Errorf("%s has no description", name)
		}
		byName[name] = c
	}
	if len(byName) != 6 {
		t.Fatalf("got %d controls", len(byName))
	}
	changes := map[string]any{
		"sigma":     float32(2),
		"ksigma":    float32(1.5),
		"threshold": float32(0.1),
		"stage":     StageRasterized,
		"algorithm": AlgorithmRadial,
		"hsv":       true,
	}
	for name, v := range changes {
		if err := byName[name].ChangeValue(v); err != nil {
			t.Errorf("%s: %v", name, err)
		}
		if byName[name].ActualValue() != v {
			t.Errorf("%s: actual value %v", name, byName[name].ActualValue())
		}
	}
	want := Settings{
		Params:    Params{Sigma: 2, KSigma: 1.5, Threshold: 0.1},
		Stage:     StageRasterized,
		Algorithm: AlgorithmRadial,
		HSV:       true,
	}
	if s != want {
		t.Errorf("settings %+v, want %+v", s, want)
	}
}

func TestControlsRejectInvalid(t *testing.T) {
	s := DefaultSettings()
	byName := make(map[string]Control)
	for _, c := range s.Controls() {
		name, _ := c.Describe()
		byName[name] = c
	}
	bad := map[string]any{
		"sigma":     float32(0),
		"threshold": float32(math.NaN()),
		"ksigma":    3.0, // float64
		"stage":     Stage(0),
		"algorithm": "smart",
		"hsv":       1,
	}
	for name, v := range bad {
		if err := byName[name].ChangeValue(v); err == nil {
			t.Errorf("%s accepted %v", name, v)
		}
	}
	if s != DefaultSettings() {
		t.Errorf("settings changed to %+v", s)
	}
}

func TestParamsControlsAcceptAnyPositive(t *testing.T) {
	p := DefaultParams()
	ctls := p.Controls()
	values := []float32{2000, 1e-30, 1.5}
	for i, c := range ctls {
		if err := c.ChangeValue(values[i]); err != nil {
			t.Error(err)
		}
	}
	want := Params{Sigma: 2000, KSigma: 1e-30, Threshold: 1.5}
	if p != want {
		t.Errorf("params %+v, want %+v", p, want)
	}
	if err := p.Validate(); err != nil {
		t.Error(err)
	}
	for _, v := range []float32{0, -1, float32(math.Inf(1))} {
		if err := ctls[2].ChangeValue(v); err == nil {
			t.Errorf("threshold accepted %v", v)
		}
	}
}
