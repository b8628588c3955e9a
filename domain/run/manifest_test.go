package run

import (
	"errors"
	"testing"
	"time"

	"alphabias/domain/core"
	"alphabias/domain/mass"
)

func testManifest() Manifest {
	m := Manifest{
		StudyID:       core.StudyID("study-1"),
		Channel:       "XWhenb",
		Families:      map[string]string{"Vjet": "ERFEXP", "VV": "EXPGAUS", "Top": "ERFEXPGAUS"},
		Windows:       mass.DefaultWindows(false),
		Seed:          42,
		Trials:        1000,
		Workers:       8,
		Strategy:      2,
		ExpectedCount: 12000,
		Fractions:     map[string]float64{"Vjet": 0.7, "VV": 0.2, "Top": 0.1},
		PriorsHash:    core.Hash("priors"),
		CodeVersion:   "1.0.0",
		CreatedAt:     core.Now(),
	}
	m.Seal()
	return m
}

func TestFingerprint_Deterministic(t *testing.T) {
	a := testManifest()
	b := testManifest()
	b.StudyID = core.StudyID("study-2")
	b.Workers = 1

	if a.Fingerprint != b.Fingerprint {
		t.Errorf("fingerprints differ: %s vs %s", a.Fingerprint, b.Fingerprint)
	}
	if err := a.Verify(); err != nil {
		t.Errorf("Verify failed: %v", err)
	}
}

func TestFingerprint_Unique(t *testing.T) {
	base := testManifest()

	testCases := []struct {
		name   string
		mutate func(m *Manifest)
	}{
		{"different channel", func(m *Manifest) { m.Channel = "XWhmnb" }},
		{"different seed", func(m *Manifest) { m.Seed = 43 }},
		{"different trials", func(m *Manifest) { m.Trials = 999 }},
		{"different family", func(m *Manifest) { m.Families["Vjet"] = "EXPN" }},
		{"different fraction", func(m *Manifest) { m.Fractions["Top"] = 0.11 }},
		{"extrapolate windows", func(m *Manifest) { m.Windows = mass.DefaultWindows(true) }},
		{"normalize to generated", func(m *Manifest) { m.NormalizeToGenerated = true }},
		{"different priors", func(m *Manifest) { m.PriorsHash = core.Hash("other") }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := testManifest()
			tc.mutate(&m)
			m.Seal()
			if m.Fingerprint == base.Fingerprint {
				t.Errorf("Fingerprint should be different for %s", tc.name)
			}
		})
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	m := testManifest()
	m.Seed = 7
	if err := m.Verify(); !errors.Is(err, core.ErrHashMismatch) {
		t.Errorf("expected ErrHashMismatch, got %v", err)
	}
}

func TestManifest_Validate(t *testing.T) {
	m := testManifest()
	if err := m.Validate(); err != nil {
		t.Fatalf("Manifest validation failed: %v", err)
	}

	bad := testManifest()
	bad.Trials = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected error for zero trials")
	}

	bad = testManifest()
	bad.Windows.SigMin = 200
	if err := bad.Validate(); err == nil {
		t.Error("expected error for inverted windows")
	}
}

func TestRecordFinish(t *testing.T) {
	r := Record{Manifest: testManifest(), Status: StatusRunning}
	r.Finish(1500*time.Millisecond, nil)
	if r.Status != StatusCompleted || r.Seconds != 1.5 {
		t.Errorf("unexpected record state: %s %g", r.Status, r.Seconds)
	}
	r.Finish(time.Second, errors.New("disk full"))
	if r.Status != StatusFailed || r.Error != "disk full" {
		t.Errorf("unexpected record state: %s %q", r.Status, r.Error)
	}
	if r.ID() != core.StudyID("study-1") {
		t.Errorf("ID = %s", r.ID())
	}
}
