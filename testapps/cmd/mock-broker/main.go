// mock-broker imitates a message broker for exercising stackctl: it opens a
// wire port immediately but only answers its health endpoint with 200 after
// --ready-after has elapsed, so probes fail first and then succeed.
package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"
)

func main() {
	var wirePort int
	var adminPort int
	var readyAfter time.Duration
	flag.IntVar(&wirePort, "wire-port", 61616, "Port for the wire protocol listener")
	flag.IntVar(&adminPort, "admin-port", 8161, "Port for the admin/health endpoint")
	flag.DurationVar(&readyAfter, "ready-after", 0, "Delay before the health endpoint reports healthy")
	flag.Parse()

	start := time.Now()

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", wirePort))
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "wire listen error: %v\n", err)
		os.Exit(2)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()
	_, _ = fmt.Fprintf(os.Stderr, "wire listening on %s\n", ln.Addr())

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		if time.Since(start) < readyAfter {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("starting"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", adminPort),
		Handler:           mux,
		ReadHeaderTimeout: 2 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		_, _ = fmt.Fprintf(os.Stderr, "admin serve error: %v\n", err)
		os.Exit(3)
	}
}
