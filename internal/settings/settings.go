// internal/settings/settings.go
package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/rumbledeck/rumbledeck/internal/errutil"
)

// maxPresetSteps matches the device's sequencer depth. Longer preset
// programs are truncated on save.
const maxPresetSteps = 8

// defaultMuxMask routes to channel A.
const defaultMuxMask = 0x01

// Preset is one named effect macro: an effect library plus a sequencer
// program of at most 8 steps.
type Preset struct {
	Lib   byte   `json:"lib"`
	Steps []byte `json:"steps"`
}

// Offsets are the persisted waveform timing offsets.
type Offsets struct {
	Overdrive  byte `json:"overdrive"`
	SustainPos byte `json:"sustain_pos"`
	SustainNeg byte `json:"sustain_neg"`
	Brake      byte `json:"brake"`
}

// Drive are the persisted drive parameters.
type Drive struct {
	Rated     byte `json:"rated"`
	Overdrive byte `json:"overdrive"`
}

// Record is the persisted settings document. The file on disk is the
// source of truth; in-memory copies are caches of it.
type Record struct {
	Presets          map[string]Preset `json:"presets"`
	UseMux           bool              `json:"use_mux"`
	MuxMask          byte              `json:"mux_mask"`
	PersistStandby   bool              `json:"persist_standby"`
	PersistHiZ       bool              `json:"persist_hi_z"`
	AutostartSniffer bool              `json:"autostart_sniffer"`
	LastLib          *byte             `json:"last_lib,omitempty"`
	LastOffsets      *Offsets          `json:"last_offsets,omitempty"`
	LastDrive        *Drive            `json:"last_drive,omitempty"`
}

// Store owns the settings document at one path. The document is loaded
// lazily, mutated in place and rewritten atomically on every change.
type Store struct {
	path string

	mu  sync.Mutex
	rec *Record // nil until first load
}

// New creates a store for the document at path. Nothing is read until
// the first access.
func New(path string) *Store {
	return &Store{path: path}
}

// DefaultPath returns the per-user settings location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "resolve user config dir")
	}
	return filepath.Join(dir, "rumbledeck", "settings.json"), nil
}

func defaultRecord() *Record {
	return &Record{
		Presets: map[string]Preset{},
		MuxMask: defaultMuxMask,
	}
}

// load returns the cached record, reading the file on first use. A
// missing or corrupt file falls back to defaults instead of failing.
// Callers hold s.mu.
func (s *Store) load() *Record {
	if s.rec != nil {
		return s.rec
	}

	rec := defaultRecord()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("settings: cannot read %s, using defaults: %v", s.path, err)
		}
		s.rec = rec
		return rec
	}
	if err := json.Unmarshal(data, rec); err != nil {
		log.Warnf("settings: %s is malformed, using defaults: %v", s.path, err)
		rec = defaultRecord()
	}
	if rec.Presets == nil {
		rec.Presets = map[string]Preset{}
	}
	s.rec = rec
	return rec
}

// save rewrites the document atomically. Callers hold s.mu.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.rec, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode settings")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrapf(err, "create settings dir for %s", s.path)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", tmp)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrapf(err, "replace %s", s.path)
	}
	return nil
}

// Snapshot returns a copy of the whole record for read-only use.
func (s *Store) Snapshot() Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := *s.load()
	rec.Presets = make(map[string]Preset, len(s.rec.Presets))
	for name, p := range s.rec.Presets {
		rec.Presets[name] = Preset{Lib: p.Lib, Steps: append([]byte(nil), p.Steps...)}
	}
	return rec
}

// ---- presets ----

// List returns all preset names in sorted order.
func (s *Store) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.load()
	names := make([]string, 0, len(rec.Presets))
	for name := range rec.Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SavePreset creates or overwrites a named preset. Programs longer than
// the sequencer are truncated.
func (s *Store) SavePreset(name string, lib byte, steps []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(steps) > maxPresetSteps {
		steps = steps[:maxPresetSteps]
	}
	rec := s.load()
	rec.Presets[name] = Preset{Lib: lib, Steps: append([]byte(nil), steps...)}
	return s.save()
}

// Preset returns a named preset.
func (s *Store) Preset(name string) (Preset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.load()
	p, ok := rec.Presets[name]
	if !ok {
		return Preset{}, errors.Wrapf(errutil.ErrNotFound, "preset %q", name)
	}
	return Preset{Lib: p.Lib, Steps: append([]byte(nil), p.Steps...)}, nil
}

// DeletePreset removes a named preset.
func (s *Store) DeletePreset(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.load()
	if _, ok := rec.Presets[name]; !ok {
		return errors.Wrapf(errutil.ErrNotFound, "preset %q", name)
	}
	delete(rec.Presets, name)
	return s.save()
}

// ---- persisted toggles and last-applied values ----

// Mux returns the persisted mux configuration.
func (s *Store) Mux() (enabled bool, mask byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.load()
	return rec.UseMux, rec.MuxMask
}

// SetMux persists the mux configuration.
func (s *Store) SetMux(enabled bool, mask byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.load()
	rec.UseMux = enabled
	rec.MuxMask = mask
	return s.save()
}

// SetStandby persists the standby toggle.
func (s *Store) SetStandby(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.load().PersistStandby = on
	return s.save()
}

// SetHighZ persists the Hi-Z toggle.
func (s *Store) SetHighZ(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.load().PersistHiZ = on
	return s.save()
}

// SetAutostartSniffer persists the capture autostart toggle.
func (s *Store) SetAutostartSniffer(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.load().AutostartSniffer = on
	return s.save()
}

// SetLastLibrary records the last selected effect library.
func (s *Store) SetLastLibrary(id byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.load().LastLib = &id
	return s.save()
}

// SetLastOffsets records the last applied timing offsets.
func (s *Store) SetLastOffsets(o Offsets) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.load().LastOffsets = &o
	return s.save()
}

// SetLastDrive records the last applied drive parameters.
func (s *Store) SetLastDrive(d Drive) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.load().LastDrive = &d
	return s.save()
}
