// hap-lightbulb is a HAP lightbulb accessory example.
//
// This binary serves a lightbulb with a stateless programmable switch over
// HAP IP. Controllers pair with the pre-shared key provider, so it is meant
// for development against test controllers.
//
// Usage:
//
//	hap-lightbulb [options]
//
// Options:
//
//	-host      Listen address (default: all interfaces)
//	-port      TCP port (default: 51826)
//	-name      Accessory name (default: "HAP Light")
//	-device-id Pairing identifier (default: 0E:51:AB:12:7C:03)
//	-setup     Setup code (default: 111-22-333)
//	-key       Pre-shared key, hex encoded
//	-paired    Start as paired
//	-storage   Path of the state file (default: in-memory)
//	-metrics   Address serving /metrics (default: disabled)
//	-log       Log level (default: info)
//
// While running, lines read from stdin control the light: "on", "off",
// "toggle", "dim <percent>" and "press [single|double|long]".
//
// Example:
//
//	hap-lightbulb -port 51826 -storage ./light.json -metrics :9100
package main

import (
	"bufio"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/backkem/hap/examples/common"
	"github.com/backkem/hap/examples/light"
)

func main() {
	// Parse command-line flags
	opts := common.ParseFlags()

	// Create the light device
	device, err := light.NewDevice(opts)
	if err != nil {
		log.Fatalf("Failed to create light device: %v", err)
	}

	go readCommands(device)

	// Run the device (blocks until interrupted)
	if err := common.RunAccessory(device.App); err != nil {
		log.Fatalf("Accessory error: %v", err)
	}
}

func readCommands(d *light.Device) {
	presses := map[string]uint8{
		"":       light.SinglePress,
		"single": light.SinglePress,
		"double": light.DoublePress,
		"long":   light.LongPress,
	}
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		cmd, arg, _ := strings.Cut(strings.TrimSpace(sc.Text()), " ")
		switch cmd {
		case "on":
			d.TurnOn()
		case "off":
			d.TurnOff()
		case "toggle":
			d.Toggle()
		case "dim":
			v, err := strconv.Atoi(arg)
			if err != nil {
				log.Printf("dim: %v", err)
				continue
			}
			d.SetBrightness(int32(v))
		case "press":
			ev, ok := presses[arg]
			if !ok {
				log.Printf("press: unknown event %q", arg)
				continue
			}
			if err := d.Press(ev); err != nil {
				log.Printf("press: %v", err)
			}
		case "":
		default:
			log.Printf("unknown command %q", cmd)
		}
	}
}
