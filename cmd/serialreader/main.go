package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/goburrow/serial"
	"github.com/namsral/flag"

	"github.com/akhenakh/climateguard/console"
)

const appName = "serialreader"

var (
	port     = flag.String("port", "/dev/ttyUSB0", "serial port of the device")
	baudRate = flag.Int("baudRate", 115200, "serial baud rate")
	timeout  = flag.Duration("timeout", 5*time.Second, "serial read timeout")
	csvPath  = flag.String("csvPath", "", "append measurements to this CSV file")
)

// portReader retries timed out reads until ctx is done
type portReader struct {
	ctx  context.Context
	port serial.Port
}

func (r portReader) Read(b []byte) (int, error) {
	for {
		n, err := r.port.Read(b)
		if err == serial.ErrTimeout {
			if cerr := r.ctx.Err(); cerr != nil {
				return 0, cerr
			}
			continue
		}
		return n, err
	}
}

func main() {
	flag.Parse()

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "app", appName)

	p, err := serial.Open(&serial.Config{
		Address:  *port,
		BaudRate: *baudRate,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  *timeout,
	})
	if err != nil {
		level.Error(logger).Log("msg", "can't open serial port", "port", *port, "error", err)
		os.Exit(2)
	}
	defer p.Close()

	var csvw *console.CSVWriter
	if *csvPath != "" {
		f, err := os.OpenFile(*csvPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			level.Error(logger).Log("msg", "can't open csv file", "path", *csvPath, "error", err)
			os.Exit(2)
		}
		defer f.Close()
		fi, err := f.Stat()
		if err != nil {
			level.Error(logger).Log("msg", "can't stat csv file", "path", *csvPath, "error", err)
			os.Exit(2)
		}
		csvw = console.NewCSVWriter(f, fi.Size() == 0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)
	go func() {
		<-interrupt
		cancel()
	}()

	level.Info(logger).Log("msg", "waiting for data", "port", *port, "baud_rate", *baudRate)

	err = console.Read(ctx, portReader{ctx: ctx, port: p}, func(l console.Line) error {
		if l.Record == nil {
			level.Debug(logger).Log("msg", "device", "line", l.Text)
			return nil
		}
		kv := []interface{}{"msg", "measurement"}
		for _, k := range l.Record.Keys() {
			kv = append(kv, k, l.Record[k])
		}
		level.Info(logger).Log(kv...)

		if csvw != nil {
			return csvw.Write(time.Now(), l.Record)
		}
		return nil
	}, func(err error) {
		level.Warn(logger).Log("msg", "invalid measurement", "error", err)
	})
	if err != nil && err != context.Canceled {
		level.Error(logger).Log("msg", "serial read failed", "error", err)
		os.Exit(1)
	}
}
