package config

import (
	"errors"
	"slices"
	"strings"
)

// DefaultProfile names the profile made of the base layers alone.
const DefaultProfile = "default"

// ProfileSet is everything the profile manager needs at startup.
type ProfileSet struct {
	Base     Overrides
	Profiles map[string]Overrides
	Initial  string
}

// NewProfileSet stacks the file, environment and flag layers. Environment
// and flags apply to the base only, so every profile inherits them unless it
// overrides the same key.
func NewProfileSet(f *File, env, flags Overrides, initial string) *ProfileSet {
	if f == nil {
		f = &File{}
	}
	profiles := make(map[string]Overrides, len(f.Profiles))
	for name, o := range f.Profiles {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		profiles[name] = o
	}
	if initial == "" {
		initial = f.Profile
	}
	if initial == "" {
		initial = DefaultProfile
	}
	return &ProfileSet{
		Base:     f.Base.Merge(env).Merge(flags),
		Profiles: profiles,
		Initial:  initial,
	}
}

// Names lists the profile names, DefaultProfile first and the rest sorted.
func (s *ProfileSet) Names() []string {
	names := []string{DefaultProfile}
	var rest []string
	for name := range s.Profiles {
		if name != DefaultProfile {
			rest = append(rest, name)
		}
	}
	slices.Sort(rest)
	return append(names, rest...)
}

// Has reports whether name is a known profile.
func (s *ProfileSet) Has(name string) bool {
	if name == DefaultProfile {
		return true
	}
	_, ok := s.Profiles[name]
	return ok
}

// Effective resolves the configuration for name: the base layers with the
// profile's overrides on top.
func (s *ProfileSet) Effective(name string) (*Configuration, error) {
	layer := s.Base
	if o, ok := s.Profiles[name]; ok {
		layer = layer.Merge(o)
	}
	cfg, err := layer.Resolve()
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			verr.Profile = name
		}
		return nil, err
	}
	return cfg, nil
}
