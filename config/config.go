// Package config loads the layouts and device assignments file.
package config

import (
	"fmt"
	"io/ioutil"

	"github.com/brocaar/lorawan"
	"gopkg.in/yaml.v3"

	"github.com/akhenakh/climateguard/payload"
)

type Config struct {
	DefaultLayout string         `yaml:"default_layout"`
	Layouts       []LayoutConfig `yaml:"layouts"`
	Devices       []DeviceConfig `yaml:"devices"`
}

// ---- LAYOUT ----

type LayoutConfig struct {
	Name   string        `yaml:"name"`
	Fields []FieldConfig `yaml:"fields"`
}

type FieldConfig struct {
	Name   string `yaml:"name"`
	Offset int    `yaml:"offset"`
	Width  int    `yaml:"width"`
	Scale  int    `yaml:"scale"`
	Signed bool   `yaml:"signed"`
	Kind   string `yaml:"kind"` // numeric (default) or passthrough
}

// ---- DEVICE ----

type DeviceConfig struct {
	ID     string `yaml:"id"`
	Layout string `yaml:"layout"`

	// ABP session, only needed when receiving from a gateway
	DevAddr string `yaml:"dev_addr"`
	NwkSKey string `yaml:"nwk_s_key"`
	AppSKey string `yaml:"app_s_key"`
}

// Session is an ABP device session used to decrypt frames received from a gateway
type Session struct {
	DeviceID string
	DevAddr  lorawan.DevAddr
	NwkSKey  lorawan.AES128Key
	AppSKey  lorawan.AES128Key
}

// Load reads and validates the YAML file at path
func Load(path string) (*Config, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("can't read config %s: %w", path, err)
	}
	return Parse(b)
}

// Parse decodes and validates a YAML document
func Parse(b []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("can't parse config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Layout converts a layout config into a payload.Layout
func (lc LayoutConfig) Layout() (payload.Layout, error) {
	l := payload.Layout{Name: lc.Name, Fields: make([]payload.FieldSpec, len(lc.Fields))}
	for i, f := range lc.Fields {
		kind, err := parseKind(f.Kind)
		if err != nil {
			return l, fmt.Errorf("layout %q field %q: %w", lc.Name, f.Name, err)
		}
		scale := f.Scale
		if scale == 0 {
			scale = 1
		}
		l.Fields[i] = payload.FieldSpec{
			Name:   f.Name,
			Offset: f.Offset,
			Width:  f.Width,
			Scale:  scale,
			Signed: f.Signed,
			Kind:   kind,
		}
	}
	return l, nil
}

func parseKind(s string) (payload.Kind, error) {
	switch s {
	case "", "numeric":
		return payload.Numeric, nil
	case "passthrough", "pass-through", "raw":
		return payload.PassThrough, nil
	default:
		return payload.Numeric, fmt.Errorf("unknown field kind %q", s)
	}
}

// Register adds the custom layouts to the payload registry.
// Must be called after Validate.
func (cfg *Config) Register() error {
	for _, lc := range cfg.Layouts {
		l, err := lc.Layout()
		if err != nil {
			return err
		}
		if err := payload.Register(l); err != nil {
			return err
		}
	}
	return nil
}

// DeviceLayouts returns the device id to layout name assignments
func (cfg *Config) DeviceLayouts() map[string]string {
	m := make(map[string]string, len(cfg.Devices))
	for _, d := range cfg.Devices {
		if d.Layout != "" {
			m[d.ID] = d.Layout
		}
	}
	return m
}

// Sessions returns the ABP sessions keyed by DevAddr
func (cfg *Config) Sessions() (map[lorawan.DevAddr]Session, error) {
	m := make(map[lorawan.DevAddr]Session)
	for _, d := range cfg.Devices {
		if d.DevAddr == "" {
			continue
		}
		s, err := d.session()
		if err != nil {
			return nil, err
		}
		m[s.DevAddr] = s
	}
	return m, nil
}

func (d DeviceConfig) session() (Session, error) {
	s := Session{DeviceID: d.ID}
	if err := s.DevAddr.UnmarshalText([]byte(d.DevAddr)); err != nil {
		return s, fmt.Errorf("device %q: invalid dev_addr: %w", d.ID, err)
	}
	if err := s.NwkSKey.UnmarshalText([]byte(d.NwkSKey)); err != nil {
		return s, fmt.Errorf("device %q: invalid nwk_s_key: %w", d.ID, err)
	}
	if err := s.AppSKey.UnmarshalText([]byte(d.AppSKey)); err != nil {
		return s, fmt.Errorf("device %q: invalid app_s_key: %w", d.ID, err)
	}
	return s, nil
}
