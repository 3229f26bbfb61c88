package main

import (
	"bytes"
	"encoding/hex"
	"flag"
	"log"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/brocaar/lorawan"

	"github.com/akhenakh/climateguard/config"
	"github.com/akhenakh/climateguard/gw"
	"github.com/akhenakh/climateguard/payload"
)

var (
	addr       = flag.String("addr", "localhost:1700", "Addr to sent the packet to")
	gwEUI      = flag.String("gwEUI", "b827ebfffe000001", "gateway EUI, 8 bytes hex")
	devAddr    = flag.String("devAddr", "26011BDA", "device address")
	nwkSKey    = flag.String("nwkSKey", "0102030405060708090A0B0C0D0E0F10", "network session key")
	appSKey    = flag.String("appSKey", "100F0E0D0C0B0A090807060504030201", "application session key")
	fport      = flag.Uint("fport", 1, "frame port")
	fcnt       = flag.Uint("fcnt", 1, "frame counter")
	layout     = flag.String("layout", payload.LayoutVersioned, "layout used to encode values")
	values     = flag.String("values", "version=1,temperature=21.37,humidity=45.5,pressure=1013.25,voltage=3.71", "comma separated name=value list")
	payloadHex = flag.String("payloadHex", "", "raw payload in hex, overrides layout and values")
	lat        = flag.Float64("lat", 0, "gateway latitude sent in a stat report, 0 to skip")
	lng        = flag.Float64("lng", 0, "gateway longitude sent in a stat report")
)

func main() {
	flag.Parse()

	var sess config.Session
	if err := sess.DevAddr.UnmarshalText([]byte(*devAddr)); err != nil {
		log.Fatal(err)
	}
	if err := sess.NwkSKey.UnmarshalText([]byte(*nwkSKey)); err != nil {
		log.Fatal(err)
	}
	if err := sess.AppSKey.UnmarshalText([]byte(*appSKey)); err != nil {
		log.Fatal(err)
	}

	var eui lorawan.EUI64
	if err := eui.UnmarshalText([]byte(*gwEUI)); err != nil {
		log.Fatal(err)
	}

	data, err := buildPayload()
	if err != nil {
		log.Fatal(err)
	}

	frame, err := gw.EncodeFrame(sess, uint8(*fport), uint32(*fcnt), data)
	if err != nil {
		log.Fatal(err)
	}

	raddr, err := net.ResolveUDPAddr("udp", *addr)
	if err != nil {
		log.Fatal(err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	if *lat != 0 || *lng != 0 {
		send(conn, eui, gw.UpstreamJSON{Stat: &gw.Stat{
			Time: time.Now().UTC().Format("2006-01-02 15:04:05 MST"),
			Lati: *lat,
			Long: *lng,
		}})
	}

	send(conn, eui, gw.UpstreamJSON{Rxpk: []gw.RXPacket{{
		Time: time.Now().UTC(),
		Tmst: int(time.Now().Unix()),
		Chan: 2,
		Freq: 868.1,
		Stat: 1,
		Modu: "LORA",
		Codr: "4/5",
		Rssi: -35,
		Lsnr: 5.1,
		Size: len(frame),
		Data: frame,
	}}})

	log.Println("sent", hex.EncodeToString(data))
}

func send(conn *net.UDPConn, eui lorawan.EUI64, ujson gw.UpstreamJSON) {
	token := uint16(rand.Intn(0xFFFF))
	p, err := gw.PushDataPacket(token, [8]byte(eui), ujson)
	if err != nil {
		log.Fatal(err)
	}
	if _, err = conn.Write(p); err != nil {
		log.Fatal(err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		log.Fatal(err)
	}
	ack := make([]byte, 4)
	n, err := conn.Read(ack)
	if err != nil {
		log.Fatal("no PUSH_ACK received ", err)
	}
	if !bytes.Equal(ack[:n], []byte{p[0], p[1], p[2], gw.PushAck}) {
		log.Fatalf("unexpected ack %x", ack[:n])
	}
}

func buildPayload() ([]byte, error) {
	if *payloadHex != "" {
		return hex.DecodeString(*payloadHex)
	}

	c, err := payload.Lookup(*layout)
	if err != nil {
		return nil, err
	}
	enc, ok := c.(payload.Encoder)
	if !ok {
		log.Fatalf("layout %s can't encode", *layout)
	}

	vals := make(map[string]float64)
	for _, kv := range strings.Split(*values, ",") {
		parts := strings.SplitN(strings.TrimSpace(kv), "=", 2)
		if len(parts) != 2 {
			log.Fatalf("invalid value %q, expecting name=value", kv)
		}
		f, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, err
		}
		vals[parts[0]] = f
	}
	return enc.Encode(vals)
}
