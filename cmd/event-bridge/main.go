// event-bridge taps the server's NATS event stream and prints each event
// as a JSON line, for piping into downstream analyzers.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marcusd/internal/events"
	"github.com/marcusd/internal/natsbridge"
)

func main() {
	url := flag.String("url", "nats://127.0.0.1:4222", "NATS server URL")
	subject := flag.String("subject", natsbridge.SubjectPrefix+".>", "Subject pattern to subscribe to")
	flag.Parse()

	client, err := natsbridge.NewClient(*url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	sub, err := client.SubscribeJSON(*subject, func(e events.Event) {
		line, err := json.Marshal(e)
		if err != nil {
			return
		}
		fmt.Println(string(line))
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to subscribe: %v\n", err)
		os.Exit(1)
	}
	defer sub.Unsubscribe()

	fmt.Fprintf(os.Stderr, "Listening on %s\n", *subject)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	<-shutdown
}
