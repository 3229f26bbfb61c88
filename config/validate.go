package config

import (
	"fmt"

	"github.com/akhenakh/climateguard/payload"
)

// Validate checks configuration correctness.
// It does not mutate the configuration nor touch the payload registry.
func Validate(cfg *Config) error {
	// layouts known after registration: shipped + custom
	known := make(map[string]struct{})
	for _, n := range payload.Names() {
		known[n] = struct{}{}
	}

	custom := make(map[string]struct{})
	for _, lc := range cfg.Layouts {
		if _, ok := custom[lc.Name]; ok {
			return fmt.Errorf("layout %q defined twice", lc.Name)
		}
		custom[lc.Name] = struct{}{}
		if payload.Shipped(lc.Name) {
			return fmt.Errorf("layout %q is built in and can't be redefined", lc.Name)
		}

		l, err := lc.Layout()
		if err != nil {
			return err
		}
		if err := l.Validate(); err != nil {
			return err
		}
		known[lc.Name] = struct{}{}
	}

	if cfg.DefaultLayout != "" {
		if _, ok := known[cfg.DefaultLayout]; !ok {
			return fmt.Errorf("default_layout %q is not a known layout", cfg.DefaultLayout)
		}
	}

	ids := make(map[string]struct{})
	addrs := make(map[string]string)
	for i, d := range cfg.Devices {
		if d.ID == "" {
			return fmt.Errorf("device #%d has no id", i)
		}
		if _, ok := ids[d.ID]; ok {
			return fmt.Errorf("device %q defined twice", d.ID)
		}
		ids[d.ID] = struct{}{}

		if d.Layout != "" {
			if _, ok := known[d.Layout]; !ok {
				return fmt.Errorf("device %q: unknown layout %q", d.ID, d.Layout)
			}
		}

		if d.DevAddr == "" {
			if d.NwkSKey != "" || d.AppSKey != "" {
				return fmt.Errorf("device %q: session keys set without dev_addr", d.ID)
			}
			continue
		}
		s, err := d.session()
		if err != nil {
			return err
		}
		if prev, ok := addrs[s.DevAddr.String()]; ok {
			return fmt.Errorf("dev_addr %s used by devices %q and %q", s.DevAddr, prev, d.ID)
		}
		addrs[s.DevAddr.String()] = d.ID
	}

	return nil
}
