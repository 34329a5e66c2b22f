// Command discover lists the radars advertising live telemetry on the
// local network.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rjboer/duplexradar/internal/mdns"
)

func main() {
	timeout := flag.Duration("timeout", 5*time.Second, "Browse duration")
	flag.Parse()

	fmt.Println("===============================================================")
	fmt.Println(" duplexradar discovery")
	fmt.Println("===============================================================")
	fmt.Printf(" Service : %s.local\n", mdns.Service)
	fmt.Printf(" Timeout : %s\n", *timeout)
	fmt.Println("---------------------------------------------------------------")

	start := time.Now()
	hosts, err := mdns.Discover(context.Background(), *timeout)
	duration := time.Since(start)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Discovery error: %v\n", err)
		os.Exit(1)
	}

	if len(hosts) == 0 {
		fmt.Printf("No radars found (%s)\n", duration.Truncate(time.Millisecond))
		return
	}
	fmt.Printf("Discovered %d radar(s) in %s\n", len(hosts), duration.Truncate(time.Millisecond))
	fmt.Println("===============================================================")

	for i, h := range hosts {
		fmt.Printf(" Radar #%d\n", i+1)
		fmt.Println("---------------------------------------------------------------")
		fmt.Printf(" Instance : %s\n", h.Instance)
		fmt.Printf(" Hostname : %s\n", h.Hostname)
		fmt.Printf(" Port     : %d\n", h.Port)
		for _, txt := range h.TXT {
			fmt.Printf(" TXT      : %s\n", txt)
		}
		fmt.Println(" Telemetry:")
		for _, ip := range h.Addresses {
			if ip.To4() != nil {
				fmt.Printf("   - ws://%s:%d/ws\n", ip.String(), h.Port)
			} else {
				fmt.Printf("   - ws://[%s]:%d/ws\n", ip.String(), h.Port)
			}
		}
		fmt.Println("===============================================================")
	}
}
