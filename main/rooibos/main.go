package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/jd3nn1s/rooibos"
	"github.com/jd3nn1s/rooibos/canfwd"
	"github.com/jd3nn1s/rooibos/ecm"
	"github.com/jd3nn1s/rooibos/forwarder"
	"github.com/jd3nn1s/rooibos/schema"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

var portName = flag.String("port", "/dev/ttyUSB0", "serial port the ecm is attached to")
var baudRate = flag.Int("baud", 9600, "serial baud rate")
var schemaFile = flag.String("schema", "live_data.json", "live data parameter schema")
var mockMode = flag.Bool("mock", false, "serve a canned snapshot instead of talking to the ecm")
var sweepParam = flag.String("sweep", "", "ramp this parameter's raw value in mock mode")
var params = flag.String("params", "engine_rpm,battery_voltage,engine_temperature,vehicle_speed_mph,warning_lights",
	"comma separated parameters to display")
var refresh = flag.Duration("refresh", 100*time.Millisecond, "dashboard refresh period")
var printTelemetry = flag.Bool("print-telemetry", false, "print telemetry to stdout")
var udpConfig = flag.String("udp-config", "", "udp forwarder configuration")
var mqttConfig = flag.String("mqtt-config", "", "mqtt forwarder configuration")
var canInterface = flag.String("can-interface", "", "forward telemetry onto this CAN interface")
var metricsAddr = flag.String("metrics-addr", "", "serve prometheus metrics on this address")
var logLevel = flag.String("log-level", "info", "log level")

var canIDs = map[string]uint32{
	"engine_rpm":         0x100,
	"engine_temperature": 0x101,
	"battery_voltage":    0x102,
	"vehicle_speed_mph":  0x103,
}

func main() {
	flag.Parse()
	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal("invalid log level: ", err)
	}
	log.SetLevel(level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	s, err := schema.Load(*schemaFile)
	if err != nil {
		log.Fatal("unable to load schema: ", err)
	}
	decoder := ecm.NewDecoder(s)

	src, err := newSource(decoder)
	if err != nil {
		log.Fatal("unable to create snapshot source: ", err)
	}

	if *metricsAddr != "" {
		serveMetrics(*metricsAddr)
	}

	cache := rooibos.NewCache(src, decoder, rooibos.CacheConfig{})
	if err := cache.Start(ctx); err != nil {
		log.Fatal("unable to start poller: ", err)
	}
	defer cache.Stop()

	dash, err := rooibos.NewDash(cache, decoder, strings.Split(*params, ",")...)
	if err != nil {
		log.Fatal("unable to create dash: ", err)
	}
	addForwarders(ctx, dash, s)

	var onChange func(ecm.Frame)
	if *printTelemetry {
		onChange = func(ecm.Frame) {
			lines, err := dash.Readout()
			if err != nil {
				log.WithField("err", err).Error("unable to render telemetry")
				return
			}
			fmt.Println(strings.Join(lines, "\n"))
		}
	}
	_ = dash.Run(ctx, *refresh, onChange)
}

func newSource(decoder *ecm.Decoder) (ecm.SnapshotSource, error) {
	if *sweepParam != "" {
		p, ok := decoder.Schema().Lookup(*sweepParam)
		if !ok {
			return nil, errors.Wrapf(ecm.ErrUnknownParameter, "%q", *sweepParam)
		}
		max := uint64(1)<<(8*uint(p.Width())) - 1
		sweep, err := rooibos.NewSweepSource(decoder, *sweepParam, 0, max, max/64+1)
		if err != nil {
			return nil, err
		}
		return sweep, nil
	}
	if *mockMode {
		return &ecm.MockSource{}, nil
	}
	return ecm.NewLink(ecm.LinkConfig{
		PortName:       *portName,
		BaudRate:       *baudRate,
		SnapshotLength: decoder.Schema().SnapshotLength(),
	}), nil
}

func addForwarders(ctx context.Context, dash *rooibos.Dash, s *schema.Schema) {
	if *udpConfig != "" {
		fwder, err := forwarder.NewUDPForwarder(*udpConfig, s)
		if err != nil {
			log.Fatal("unable to load UDP forwarder: ", err)
		}
		go fwder.Start(ctx)
		dash.AddForwarder(fwder)
	}
	if *mqttConfig != "" {
		fwder, err := forwarder.NewMQTTForwarder(*mqttConfig)
		if err != nil {
			log.Fatal("unable to load MQTT forwarder: ", err)
		}
		go fwder.Start(ctx)
		dash.AddForwarder(fwder)
	}
	if *canInterface != "" {
		conn, err := canfwd.Connect(*canInterface, canIDs)
		if err != nil {
			log.Fatal("unable to open CAN interface: ", err)
		}
		go func() {
			if err := conn.Start(ctx); err != nil {
				log.WithField("err", err).Error("CAN bus stopped")
			}
		}()
		dash.AddForwarder(conn)
	}
}

func serveMetrics(addr string) {
	reg := prometheus.NewRegistry()
	if err := rooibos.RegisterMetrics(reg); err != nil {
		log.Fatal(err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		log.WithField("addr", addr).Info("serving metrics")
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.WithField("err", err).Error("metrics server stopped")
		}
	}()
}
