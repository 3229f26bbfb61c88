package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"github.com/golang/protobuf/ptypes/empty"
	"github.com/golang/protobuf/ptypes/wrappers"
	_ "github.com/mbobakov/grpc-consul-resolver"
	"google.golang.org/grpc"
	"google.golang.org/grpc/balancer/roundrobin"

	"github.com/akhenakh/climateguard/uplinksvc"
)

var (
	climateURI = flag.String("climateURI", "localhost:9200", "climated grpc URI, consul://127.0.0.1:8500/climated is supported")
	key        = flag.String("key", "", "ask for the latest reading of a device")
	layout     = flag.String("layout", "", "decode payloadHex with this layout")
	payloadHex = flag.String("payloadHex", "", "hex payload to decode")
	listLayout = flag.Bool("layouts", false, "list the layouts known by the server")
)

func main() {
	flag.Parse()

	conn, err := grpc.Dial(*climateURI,
		grpc.WithInsecure(),
		grpc.WithBalancerName(roundrobin.Name), //nolint:staticcheck
	)
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	c := uplinksvc.NewDecoderClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	switch {
	case *layout != "":
		req, err := uplinksvc.ToStruct(map[string]interface{}{
			"layout":      *layout,
			"payload_hex": *payloadHex,
		})
		if err != nil {
			log.Fatal(err)
		}
		res, err := c.Decode(ctx, req)
		if err != nil {
			log.Fatal(err)
		}
		printJSON(uplinksvc.FromStruct(res))

	case *key != "":
		res, err := c.Latest(ctx, &wrappers.StringValue{Value: *key})
		if err != nil {
			log.Fatal(err)
		}
		printJSON(uplinksvc.FromStruct(res))

	case *listLayout:
		res, err := c.Layouts(ctx, &empty.Empty{})
		if err != nil {
			log.Fatal(err)
		}
		printJSON(uplinksvc.FromListValue(res))

	default:
		res, err := c.Devices(ctx, &empty.Empty{})
		if err != nil {
			log.Fatal(err)
		}
		printJSON(uplinksvc.FromListValue(res))
	}
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatal(err)
	}
}
