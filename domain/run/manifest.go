package run

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"alphabias/domain/core"
	"alphabias/domain/mass"
)

// Manifest is the complete description of a study. Replaying a manifest with the
// same code version reproduces the study bit for bit; the worker count is recorded
// but is not part of the fingerprint since results do not depend on it.
type Manifest struct {
	StudyID              core.StudyID       `json:"study_id"`
	Channel              string             `json:"channel"`
	Families             map[string]string  `json:"families"`
	Windows              mass.Windows       `json:"windows"`
	Seed                 uint64             `json:"seed"`
	Trials               int                `json:"trials"`
	Workers              int                `json:"workers"`
	Strategy             int                `json:"strategy"`
	ExpectedCount        float64            `json:"expected_count"`
	Fractions            map[string]float64 `json:"fractions"`
	NormalizeToGenerated bool               `json:"normalize_to_generated"`
	PriorsHash           core.Hash          `json:"priors_hash"`
	CodeVersion          string             `json:"code_version"`
	Fingerprint          core.Hash          `json:"fingerprint"`
	CreatedAt            core.Timestamp     `json:"created_at"`
}

// Seal computes the fingerprint from the determinism parameters.
func (m *Manifest) Seal() {
	m.Fingerprint = computeFingerprint(m)
}

// Verify reports whether the stored fingerprint matches the manifest contents.
func (m *Manifest) Verify() error {
	if want := computeFingerprint(m); want != m.Fingerprint {
		return fmt.Errorf("%w: manifest %s has %s, contents give %s",
			core.ErrHashMismatch, m.StudyID, m.Fingerprint.Short(), want.Short())
	}
	return nil
}

// Validate checks if the manifest is complete
func (m *Manifest) Validate() error {
	if core.ID(m.StudyID).IsEmpty() {
		return core.NewValidationError("manifest", "study_id cannot be empty")
	}
	if m.Channel == "" {
		return core.NewValidationError("manifest", "channel cannot be empty")
	}
	if m.Trials <= 0 {
		return core.NewValidationError("manifest", "trials must be positive")
	}
	if m.PriorsHash.IsEmpty() {
		return core.NewValidationError("manifest", "priors_hash cannot be empty")
	}
	if m.CodeVersion == "" {
		return core.NewValidationError("manifest", "code_version cannot be empty")
	}
	return m.Windows.Validate()
}

// computeFingerprint generates a deterministic hash of every parameter that
// influences the study outcome.
func computeFingerprint(m *Manifest) core.Hash {
	w := m.Windows
	data := fmt.Sprintf("channel:%s|families:%s|windows:%g,%g,%g,%g,%g,%g|seed:%d|trials:%d|strategy:%d|expected:%g|fractions:%s|normgen:%t|priors:%s|code:%s",
		m.Channel, joinSorted(m.Families), w.LowMin, w.LowMax, w.SigMin, w.SigMax, w.HighMin, w.HighMax,
		m.Seed, m.Trials, m.Strategy, m.ExpectedCount, joinSortedFloat(m.Fractions), m.NormalizeToGenerated,
		m.PriorsHash, m.CodeVersion)

	hash := sha256.Sum256([]byte(data))
	return core.Hash(fmt.Sprintf("%x", hash))
}

func joinSorted(kv map[string]string) string {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + kv[k]
	}
	return strings.Join(parts, ",")
}

func joinSortedFloat(kv map[string]float64) string {
	s := make(map[string]string, len(kv))
	for k, v := range kv {
		s[k] = fmt.Sprintf("%g", v)
	}
	return joinSorted(s)
}
