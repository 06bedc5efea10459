package config

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ja7ad/undervolt/pkg/types"
	"github.com/ja7ad/undervolt/pkg/voltage"
)

// Profile is a saved set of offsets:
//
//	offsets:
//	  core: -100
//	  cache: -100
//	  gpu: -50
//	force: false
type Profile struct {
	Offsets map[string]float64 `yaml:"offsets"`
	Force   bool               `yaml:"force"`
}

// Request converts the profile into a validated OffsetRequest.
func (p Profile) Request() (voltage.OffsetRequest, error) {
	req := make(voltage.OffsetRequest, len(p.Offsets))
	for name, mv := range p.Offsets {
		plane, err := voltage.ParsePlane(name)
		if err != nil {
			return nil, fmt.Errorf("profile: %w", err)
		}
		req[plane] = types.Millivolts(mv)
	}
	return req, nil
}

// ParseProfile decodes a YAML profile, rejecting unknown keys.
func ParseProfile(r io.Reader) (Profile, error) {
	var p Profile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && err != io.EOF {
		return Profile{}, fmt.Errorf("profile: %w", err)
	}
	if _, err := p.Request(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// LoadProfile reads a YAML profile from path.
func LoadProfile(path string) (Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return Profile{}, fmt.Errorf("profile: %w", err)
	}
	defer f.Close()
	return ParseProfile(f)
}

// WriteProfile stores req as a YAML profile.
func WriteProfile(w io.Writer, req voltage.OffsetRequest, force bool) error {
	p := Profile{Offsets: make(map[string]float64, len(req)), Force: force}
	for plane, mv := range req {
		p.Offsets[plane.String()] = float64(mv)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("profile: %w", err)
	}
	return enc.Close()
}
