// Command m2mlinkd runs one m2mlink pairing/connection link against a
// serial-attached radio, mirroring its status into Redis and accepting
// host commands from a Redis list, the same top-level shape as the
// teacher's cmd/bluetooth-service: parse flags, connect collaborators,
// wire the orchestrator, run until a signal arrives.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"math/bits"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/librescoot/m2mlink/pkg/debugstream"
	"github.com/librescoot/m2mlink/pkg/diagnostics"
	"github.com/librescoot/m2mlink/pkg/fsm"
	"github.com/librescoot/m2mlink/pkg/gpio"
	"github.com/librescoot/m2mlink/pkg/persist"
	"github.com/librescoot/m2mlink/pkg/persist/blobstore"
	"github.com/librescoot/m2mlink/pkg/redisbus"
	"github.com/librescoot/m2mlink/pkg/serialradio"
)

var (
	localAddrHex   = flag.String("local-addr", "", "local radio MAC address, hex with optional colons (required)")
	radioSerial    = flag.String("radio-serial", "/dev/ttyACM0", "radio adapter serial device")
	radioBaud      = flag.Int("radio-baud", 115200, "radio adapter baud rate")
	pairingChannel = flag.Int("pairing-channel", 1, "radio channel used during pairing broadcasts")
	commChannel    = flag.Int("comm-channel", 0, "post-pairing communication channel (0 = auto-select)")

	persistKind = flag.String("persist", "redis", "pairing persistence backend: redis or blob")
	blobPath    = flag.String("blob-path", "/var/lib/m2mlink/pairing.bin", "path to the 42-byte pairing record (persist=blob)")
	persistKey  = flag.String("persist-redis-key", "m2mlink:pairing", "Redis hash key for pairing persistence (persist=redis)")

	redisAddr = flag.String("redis-addr", "localhost:6379", "Redis server address")
	redisPass = flag.String("redis-pass", "", "Redis password")
	redisDB   = flag.Int("redis-db", 0, "Redis database number")

	debugSerial = flag.String("debug-serial", "", "optional debug text stream serial device")
	debugBaud   = flag.Int("debug-baud", 115200, "debug text stream baud rate")

	indicatorGPIO     = flag.String("indicator-gpio", "", "optional indicator LED GPIO pin name")
	indicatorInverted = flag.Bool("indicator-inverted", false, "indicator LED is active-low")
	buttonGPIO        = flag.String("button-gpio", "", "optional pairing-reset button GPIO pin name")
	buttonNormClosed  = flag.Bool("button-normally-closed", false, "pairing button is normally closed (reads low at rest)")

	localName         = flag.String("local-name", "", "name advertised to the remote peer")
	disableEncryption = flag.Bool("disable-encryption", false, "run the link without AES keys (debugging only)")
	autoTxPower       = flag.Bool("auto-tx-power", true, "enable the adaptive TX-power control loop")

	tickInterval = flag.Duration("tick-interval", 20*time.Millisecond, "Tick() cadence")
)

func parseMAC(s string) ([6]byte, error) {
	var out [6]byte
	s = strings.ReplaceAll(s, ":", "")
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("invalid MAC %q: %w", s, err)
	}
	if len(b) != 6 {
		return out, fmt.Errorf("MAC %q must decode to 6 bytes, got %d", s, len(b))
	}
	copy(out[:], b)
	return out, nil
}

func main() {
	flag.Parse()
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	if *localAddrHex == "" {
		log.Fatal("m2mlinkd: -local-addr is required")
	}
	localAddr, err := parseMAC(*localAddrHex)
	if err != nil {
		log.Fatalf("m2mlinkd: %v", err)
	}

	driver, err := serialradio.Open(*radioSerial, *radioBaud)
	if err != nil {
		log.Fatalf("m2mlinkd: open radio %s: %v", *radioSerial, err)
	}
	defer driver.Close()
	log.Printf("m2mlinkd: radio attached on %s @ %d baud", *radioSerial, *radioBaud)

	bus, err := redisbus.New(*redisAddr, *redisPass, *redisDB)
	if err != nil {
		log.Fatalf("m2mlinkd: connect redis: %v", err)
	}
	defer bus.Close()
	log.Printf("m2mlinkd: connected to Redis at %s", *redisAddr)

	var store fsm.Persistence
	switch *persistKind {
	case "redis":
		store = persist.New(bus.Client(), *persistKey)
	case "blob":
		f, err := os.OpenFile(*blobPath, os.O_RDWR|os.O_CREATE, 0600)
		if err != nil {
			log.Fatalf("m2mlinkd: open blob store %s: %v", *blobPath, err)
		}
		defer f.Close()
		store = blobstore.New(f)
	default:
		log.Fatalf("m2mlinkd: unknown -persist value %q (want redis or blob)", *persistKind)
	}

	link := fsm.New(driver, store, localAddr)
	if *localName != "" {
		link.SetLocalName(*localName)
	}
	if *disableEncryption {
		link.DisableEncryption()
	}
	link.SetAutomaticTXPower(*autoTxPower)

	debugOut := debugstream.Discard
	if *debugSerial != "" {
		dbg, err := debugstream.Open(*debugSerial, *debugBaud)
		if err != nil {
			log.Printf("m2mlinkd: debug stream unavailable: %v", err)
		} else {
			defer dbg.Close()
			link.SetDebugStream(dbg)
			debugOut = dbg
		}
	}

	if *indicatorGPIO != "" {
		pin, err := gpio.OpenIndicator(*indicatorGPIO, *indicatorInverted)
		if err != nil {
			log.Printf("m2mlinkd: indicator GPIO unavailable: %v", err)
		} else {
			link.ConfigureIndicator(pin)
		}
	}
	if *buttonGPIO != "" {
		pin, err := gpio.OpenButton(*buttonGPIO, *buttonNormClosed)
		if err != nil {
			log.Printf("m2mlinkd: button GPIO unavailable: %v", err)
		} else {
			link.ConfigurePairingButton(pin)
		}
	}

	link.OnPairing(func() { log.Printf("m2mlinkd: pairing") })
	link.OnPaired(func() { log.Printf("m2mlinkd: paired") })
	link.OnConnected(func() { log.Printf("m2mlinkd: connected") })
	link.OnDisconnected(func() { log.Printf("m2mlinkd: disconnected") })

	stop := make(chan struct{})
	go bus.WatchCommands(stop, func(cmd string) {
		switch cmd {
		case redisbus.CommandResetPairing:
			log.Printf("m2mlinkd: reset-pairing command received")
			link.ResetPairing()
		default:
			log.Printf("m2mlinkd: unknown command %q", cmd)
		}
	})

	if err := link.Begin(uint8(*commChannel), uint8(*pairingChannel)); err != nil {
		log.Fatalf("m2mlinkd: begin: %v", err)
	}

	diagPub := &diagnostics.Publisher{
		Debug:   debugOut,
		Publish: bus.PublishDiagnostics,
		Channel: redisbus.KeyDiagnostics,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(*tickInterval)
	defer ticker.Stop()
	statusTicker := time.NewTicker(time.Second)
	defer statusTicker.Stop()

	log.Printf("m2mlinkd: running")
	for {
		select {
		case <-sigCh:
			close(stop)
			log.Printf("m2mlinkd: shutting down")
			return
		case <-ticker.C:
			link.Tick()
		case <-statusTicker.C:
			remoteName, _ := link.RemoteName()
			if err := bus.PublishStatus(link.State().String(), link.Connected(), link.LinkQuality(), remoteName); err != nil {
				log.Printf("m2mlinkd: publish status: %v", err)
			}
			diagPub.Emit(diagnostics.Snapshot{
				State:             link.State().String(),
				LinkQualityScore:  bits.OnesCount32(link.LinkQuality()),
				SendQ:             link.SendQ(),
				EchoQ:             link.EchoQ(),
				TxPowerQuarterDBm: link.CurrentTXPower(),
				KeepaliveInterval: link.KeepaliveInterval(),
				RemoteAddr:        link.RemoteAddr(),
			})
		}
	}
}
