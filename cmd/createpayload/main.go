package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/akhenakh/cayenne"

	"github.com/akhenakh/climateguard/payload"
)

var (
	layout  = flag.String("layout", payload.LayoutVersioned, "The layout to encode with, cayenne for Cayenne LPP")
	values  = flag.String("values", "version=1,temperature=21.37,humidity=45.5,pressure=1013.25,voltage=3.71", "comma separated name=value list")
	gps     = flag.Bool("gps", false, "add a GPS position, cayenne only")
	lat     = flag.Float64("lat", 48.8, "The Latitude")
	lng     = flag.Float64("lng", 2.2, "The Longitude")
	channel = flag.Int("channel", payload.CayenneChannel, "The cayenne GPS channel")
)

func main() {
	flag.Parse()

	vals, err := parseValues(*values)
	if err != nil {
		log.Fatal(err)
	}

	c, err := payload.Lookup(*layout)
	if err != nil {
		log.Fatal(err)
	}

	enc, ok := c.(payload.Encoder)
	if !ok {
		log.Fatalf("layout %s can't encode", *layout)
	}

	b, err := enc.Encode(vals)
	if err != nil {
		log.Fatal(err)
	}

	if *gps {
		if *layout != payload.CayenneName {
			log.Fatal("gps is only supported by the cayenne layout")
		}
		e := cayenne.NewEncoder()
		e.AddGPS(uint8(*channel), float32(*lat), float32(*lng), 0.0)
		b = append(b, e.Bytes()...)
	}

	// check it decodes back
	rec, err := c.Decode(b)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("Data", hex.EncodeToString(b))
	for _, k := range rec.Keys() {
		fmt.Println(k, rec[k])
	}
}

func parseValues(s string) (map[string]float64, error) {
	m := make(map[string]float64)
	for _, kv := range strings.Split(s, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid value %q, expecting name=value", kv)
		}
		f, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q: %w", kv, err)
		}
		m[parts[0]] = f
	}
	return m, nil
}
