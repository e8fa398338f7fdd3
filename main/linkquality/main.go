package main

import (
	"flag"
	"fmt"

	"github.com/jd3nn1s/rooibos/ecm"
	"github.com/jd3nn1s/rooibos/schema"
	log "github.com/sirupsen/logrus"
)

var portName = flag.String("port", "/dev/ttyUSB0", "serial port the ecm is attached to")
var baudRate = flag.Int("baud", 9600, "serial baud rate")
var schemaFile = flag.String("schema", "live_data.json", "live data parameter schema")
var samples = flag.Int("samples", 100, "requests per measurement")

func main() {
	log.SetLevel(log.InfoLevel)
	flag.Parse()

	s, err := schema.Load(*schemaFile)
	if err != nil {
		log.Fatal("unable to load schema: ", err)
	}
	link := ecm.NewLink(ecm.LinkConfig{
		PortName:       *portName,
		BaudRate:       *baudRate,
		SnapshotLength: s.SnapshotLength(),
	})
	if err := link.Open(); err != nil {
		log.Fatal("unable to open ecm link: ", err)
	}
	defer link.Close()

	for {
		q, err := ecm.SampleLinkQuality(link, *samples)
		if err != nil {
			log.Fatal("link failed: ", err)
		}
		log.WithField("naks", q.Naks).
			WithField("unknown", q.Unknown).
			WithField("noResponse", q.NoResponse).
			Debug("sampled link")
		fmt.Printf("%.1f%%\n", q.ChecksumFailureRatio()*100)
	}
}
