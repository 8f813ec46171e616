package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"
)

// A stand-in upstream for local runs. -latency slows every response so the
// load monitor can be driven into elevated or critical.
func main() {
	addr := flag.String("addr", ":3001", "listen address")
	latency := flag.Duration("latency", 0, "delay added to every response")
	flag.Parse()

	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if *latency > 0 {
			time.Sleep(*latency)
		}
		log.Printf("Received request: %s %s", r.Method, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"message": "Hello from dummy upstream", "path": %q}`, r.URL.Path)
	})

	log.Printf("Dummy upstream starting on %s", *addr)
	if err := http.ListenAndServe(*addr, nil); err != nil {
		log.Fatal(err)
	}
}
