package main

import (
	"context"
	"encoding/hex"
	"os"
	"os/signal"
	"syscall"

	ttnsdk "github.com/TheThingsNetwork/go-app-sdk"
	log "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/namsral/flag"

	"github.com/akhenakh/climateguard/payload"
	"github.com/akhenakh/climateguard/uplinksvc"
)

const appName = "ttncli"

var (
	appID        = flag.String("appID", "climateguard", "The things network application ID")
	appAccessKey = flag.String("appAccessKey", "", "The things network access key")
	layout       = flag.String("layout", payload.LayoutVersioned, "layout used to decode uplinks")
)

func main() {
	flag.Parse()

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "app", appName)

	codec, err := payload.Lookup(*layout)
	if err != nil {
		level.Error(logger).Log("msg", "invalid layout", "error", err)
		os.Exit(2)
	}

	ctx := context.Background()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	config := ttnsdk.NewCommunityConfig(appName)
	config.ClientVersion = "1.0"

	// Create a new SDK client for the application
	client := config.NewClient(*appID, *appAccessKey)
	defer client.Close()

	// Start Publish/Subscribe client (MQTT)
	pubsub, err := client.PubSub()
	if err != nil {
		level.Error(logger).Log("msg", "can't get pub/sub", "error", err)
		os.Exit(2)
	}

	// Get a publish/subscribe client for all devices
	allDevicesPubSub := pubsub.AllDevices()
	defer allDevicesPubSub.Close()

	msgs, err := allDevicesPubSub.SubscribeUplink()
	if err != nil {
		level.Error(logger).Log("msg", "can't subscribe to uplinks", "error", err)
		os.Exit(2)
	}

	// catch termination
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	go func() {
		for {
			select {
			case <-ctx.Done():
				level.Info(logger).Log("msg", "unsubscribe from all devices")
				if err := allDevicesPubSub.UnsubscribeUplink(); err != nil {
					level.Error(logger).Log("msg", "can't unsubscribe from uplink msg", "error", err)
				}
				return
			case msg := <-msgs:
				if msg == nil || len(msg.PayloadRaw) == 0 {
					continue
				}
				up := uplinksvc.UplinkFromTTN(msg)
				kv := []interface{}{
					"msg", "received uplink",
					"device_id", up.DeviceID,
					"fport", up.FPort,
					"fcnt", up.FCnt,
					"gateway", up.Gateway,
					"rssi", up.RSSI,
					"data", hex.EncodeToString(up.Payload),
				}

				rec, err := codec.Decode(up.Payload)
				if err != nil {
					level.Warn(logger).Log(append(kv, "error", err)...)
					continue
				}
				for _, k := range rec.Keys() {
					kv = append(kv, k, rec[k])
				}
				level.Info(logger).Log(kv...)
			}
		}
	}()

	<-interrupt
	cancel()
}
