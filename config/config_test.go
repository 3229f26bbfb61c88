package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/brocaar/lorawan"
	"github.com/stretchr/testify/require"

	"github.com/akhenakh/climateguard/payload"
)

const sample = `
default_layout: versioned
layouts:
  - name: outdoor
    fields:
      - {name: version, offset: 0, width: 1, kind: passthrough}
      - {name: temperature, offset: 1, width: 2, scale: 100, signed: true}
      - {name: humidity, offset: 3, width: 2, scale: 100}
devices:
  - id: climate-01
    layout: versioned
    dev_addr: 26011BDA
    nwk_s_key: 000102030405060708090A0B0C0D0E0F
    app_s_key: 0F0E0D0C0B0A09080706050403020100
  - id: balcony
    layout: outdoor
  - id: kitchen
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.Equal(t, "versioned", cfg.DefaultLayout)
	require.Len(t, cfg.Layouts, 1)
	require.Len(t, cfg.Devices, 3)

	require.Equal(t, map[string]string{
		"climate-01": "versioned",
		"balcony":    "outdoor",
	}, cfg.DeviceLayouts())

	l, err := cfg.Layouts[0].Layout()
	require.NoError(t, err)
	require.Equal(t, payload.PassThrough, l.Fields[0].Kind)
	require.Equal(t, 1, l.Fields[0].Scale)
	require.True(t, l.Fields[1].Signed)
	require.Equal(t, 5, l.Size())

	require.NoError(t, cfg.Register())
	c, err := payload.Lookup("outdoor")
	require.NoError(t, err)
	rec, err := c.Decode([]byte{0x02, 0xFC, 0x18, 0x11, 0xC6})
	require.NoError(t, err)
	require.Equal(t, int64(2), rec["version"])
	require.Equal(t, -10.0, rec["temperature"])
	require.Equal(t, 45.5, rec["humidity"])
}

func TestSessions(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	sessions, err := cfg.Sessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	addr := lorawan.DevAddr{0x26, 0x01, 0x1B, 0xDA}
	s, ok := sessions[addr]
	require.True(t, ok)
	require.Equal(t, "climate-01", s.DeviceID)
	require.Equal(t, lorawan.AES128Key{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}, s.NwkSKey)
	require.Equal(t, lorawan.AES128Key{15, 14, 13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1, 0}, s.AppSKey)
}

func TestLoad(t *testing.T) {
	dir, err := ioutil.TempDir("", "config")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "climateguard.yaml")
	require.NoError(t, ioutil.WriteFile(path, []byte(sample), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "versioned", cfg.DefaultLayout)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		errMsg string
	}{
		{
			name:   "unknown default",
			doc:    "default_layout: nope\n",
			errMsg: "default_layout",
		},
		{
			name: "overlap",
			doc: `
layouts:
  - name: bad
    fields:
      - {name: a, offset: 0, width: 2}
      - {name: b, offset: 1, width: 2}
`,
			errMsg: "overlaps",
		},
		{
			name: "kind",
			doc: `
layouts:
  - name: bad
    fields:
      - {name: a, offset: 0, width: 2, kind: text}
`,
			errMsg: "unknown field kind",
		},
		{
			name: "layout twice",
			doc: `
layouts:
  - name: twice
    fields: [{name: a, width: 1}]
  - name: twice
    fields: [{name: a, width: 1}]
`,
			errMsg: "defined twice",
		},
		{
			name: "shipped layout name",
			doc: `
layouts:
  - name: combo
    fields: [{name: x, offset: 0, width: 1}]
`,
			errMsg: "built in",
		},
		{
			name: "cayenne name",
			doc: `
layouts:
  - name: cayenne
    fields: [{name: x, offset: 0, width: 1}]
`,
			errMsg: "built in",
		},
		{
			name: "device twice",
			doc: `
devices:
  - id: a
  - id: a
`,
			errMsg: "defined twice",
		},
		{
			name: "device unknown layout",
			doc: `
devices:
  - id: a
    layout: nope
`,
			errMsg: "unknown layout",
		},
		{
			name: "bad key",
			doc: `
devices:
  - id: a
    dev_addr: 26011BDA
    nwk_s_key: "0001"
    app_s_key: 0F0E0D0C0B0A09080706050403020100
`,
			errMsg: "nwk_s_key",
		},
		{
			name: "keys without addr",
			doc: `
devices:
  - id: a
    app_s_key: 0F0E0D0C0B0A09080706050403020100
`,
			errMsg: "without dev_addr",
		},
		{
			name: "same dev addr",
			doc: `
devices:
  - id: a
    dev_addr: 26011BDA
    nwk_s_key: 000102030405060708090A0B0C0D0E0F
    app_s_key: 0F0E0D0C0B0A09080706050403020100
  - id: b
    dev_addr: 26011BDA
    nwk_s_key: 000102030405060708090A0B0C0D0E0F
    app_s_key: 0F0E0D0C0B0A09080706050403020100
`,
			errMsg: "used by devices",
		},
		{
			name:   "yaml",
			doc:    "devices: [",
			errMsg: "can't parse config",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

func TestShippedLayoutKept(t *testing.T) {
	cfg := &Config{Layouts: []LayoutConfig{{
		Name:   payload.LayoutCombo,
		Fields: []FieldConfig{{Name: "x", Width: 1}},
	}}}
	require.Error(t, Validate(cfg))
	require.Error(t, cfg.Register())

	c, err := payload.Lookup(payload.LayoutCombo)
	require.NoError(t, err)
	rec, err := c.Decode([]byte{0x09, 0xC4, 0x17, 0x70, 0x01, 0x8B, 0xCD, 0x09, 0xC4, 0x17, 0x70})
	require.NoError(t, err)
	require.Len(t, rec, 5)
	require.Equal(t, 25.0, rec["bme280_temperature"])
}
