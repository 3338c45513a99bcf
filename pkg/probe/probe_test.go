package probe

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/stackctl/pkg/topology"
)

func httpProbe(url string, timeout time.Duration) topology.Probe {
	return topology.Probe{
		Type:    topology.ProbeHTTP,
		URL:     url,
		Timeout: topology.Duration(timeout),
	}
}

func TestOnce_HTTPHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, Once(context.Background(), httpProbe(srv.URL, time.Second)))
}

func TestOnce_HTTPServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := Once(context.Background(), httpProbe(srv.URL, time.Second))
	require.Error(t, err)
	require.Contains(t, err.Error(), "http status 503")
}

func TestOnce_HTTPTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	err := Once(context.Background(), httpProbe(srv.URL, 50*time.Millisecond))
	require.Error(t, err)
	require.Equal(t, "timeout", err.Error())
}

func TestOnce_TCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	p := topology.Probe{
		Type:    topology.ProbeTCP,
		Address: ln.Addr().String(),
		Timeout: topology.Duration(time.Second),
	}
	require.NoError(t, Once(context.Background(), p))
}

func TestOnce_TCPRefused(t *testing.T) {
	// Reserve a port and close it so nothing is listening.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	p := topology.Probe{
		Type:    topology.ProbeTCP,
		Address: addr,
		Timeout: topology.Duration(time.Second),
	}
	require.Error(t, Once(context.Background(), p))
}

func TestOnce_Exec(t *testing.T) {
	ok := topology.Probe{
		Type:    topology.ProbeExec,
		Command: []string{"true"},
		Timeout: topology.Duration(time.Second),
	}
	require.NoError(t, Once(context.Background(), ok))

	failing := topology.Probe{
		Type:    topology.ProbeExec,
		Command: []string{"false"},
		Timeout: topology.Duration(time.Second),
	}
	require.Error(t, Once(context.Background(), failing))
}

func TestOnce_UnsupportedType(t *testing.T) {
	p := topology.Probe{Type: "carrier-pigeon", Timeout: topology.Duration(time.Second)}
	require.Error(t, Once(context.Background(), p))
}
