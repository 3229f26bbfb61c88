package console

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/akhenakh/climateguard/payload"
)

func TestParseLine(t *testing.T) {
	l, err := ParseLine(`{"temperature":21.37,"humidity":45.5,"pressure":1013.25,"voltage":3.71,"timestamp":123456}`)
	require.NoError(t, err)
	require.Equal(t, payload.Record{
		"temperature": 21.37,
		"humidity":    45.5,
		"pressure":    1013.25,
		"voltage":     3.71,
		"timestamp":   int64(123456),
	}, l.Record)

	l, err = ParseLine("BME280 found  ")
	require.NoError(t, err)
	require.Nil(t, l.Record)
	require.Equal(t, "BME280 found", l.Text)

	_, err = ParseLine(`{"temperature":`)
	require.Error(t, err)

	_, err = ParseLine(`{"temperature":"warm"}`)
	require.Error(t, err)
}

func TestRead(t *testing.T) {
	in := strings.Join([]string{
		"LoRa init ok",
		"",
		`{"temperature":21.5,"voltage":3.7}`,
		`{"temperature":}`,
		"\xffsent",
		`{"humidity":40}`,
	}, "\n")

	var lines []Line
	var errs []error
	err := Read(context.Background(), strings.NewReader(in), func(l Line) error {
		lines = append(lines, l)
		return nil
	}, func(err error) {
		errs = append(errs, err)
	})
	require.NoError(t, err)
	require.Len(t, lines, 4)
	require.Len(t, errs, 1)
	require.Nil(t, lines[0].Record)
	require.Equal(t, 21.5, lines[1].Record["temperature"])
	require.Equal(t, "sent", lines[2].Text)
	require.Equal(t, 40.0, lines[3].Record["humidity"])
}

func TestReadCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Read(ctx, strings.NewReader("a\nb\n"), func(Line) error { return nil }, nil)
	require.Equal(t, context.Canceled, err)
}

func TestCSVWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewCSVWriter(&buf, true)
	ts := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, w.Write(ts, payload.Record{"temperature": 21.5, "voltage": 3.7}))
	require.NoError(t, w.Write(ts, payload.Record{"humidity": 40.0}))

	require.Equal(t,
		"timestamp,temperature,humidity,pressure,voltage\n"+
			"2020-01-02 03:04:05,21.5,,,3.7\n"+
			"2020-01-02 03:04:05,,40,,\n",
		buf.String())
}
