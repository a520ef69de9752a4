// Copyright (C) 2014 The filepump Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package metrics exposes the broker's internal counters on an opt-in,
// loopback-only HTTP endpoint. Modeled on lib/api/api.go's mux
// construction — an httprouter mux, Prometheus wired in at "/metrics"
// via promhttp.Handler, and an explicit localhost check before the
// handler chain runs — shrunk to the one endpoint this daemon needs
// instead of the teacher's full REST surface, since the channel
// transport itself (spec.md's non-goal "network transport") is
// untouched by this package.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/filepump/filepump/lib/logger"
)

var l = logger.DefaultLogger.NewFacility("metrics", "debug and metrics endpoint")

var (
	// WorkersActive reports the current number of supervised watch
	// workers.
	WorkersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "filepump",
		Subsystem: "broker",
		Name:      "workers_active",
		Help:      "Number of currently running watch workers.",
	})

	// ScansTotal counts completed enumeration passes across all workers.
	ScansTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "filepump",
		Subsystem: "watcher",
		Name:      "scans_total",
		Help:      "Total number of directory scans completed.",
	})

	// NamesEmittedTotal counts filenames sent to clients across all
	// workers.
	NamesEmittedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "filepump",
		Subsystem: "watcher",
		Name:      "names_emitted_total",
		Help:      "Total number of filenames streamed to clients.",
	})

	// ControlRequestsTotal counts requests served on the control channel.
	ControlRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "filepump",
		Subsystem: "broker",
		Name:      "control_requests_total",
		Help:      "Total number of requests served on the control channel.",
	})
)

func init() {
	prometheus.MustRegister(WorkersActive, ScansTotal, NamesEmittedTotal, ControlRequestsTotal)
}

// Server is the loopback-only debug HTTP endpoint.
type Server struct {
	srv *http.Server
}

// NewServer builds (but does not start) a debug server bound to addr,
// which must resolve to a loopback address — the channel transport
// stays a local pipe pair regardless of whether this endpoint is
// enabled.
func NewServer(addr string) (*Server, error) {
	if !addressIsLoopback(addr) {
		return nil, fmt.Errorf("metrics: refusing non-loopback debug address %q", addr)
	}

	router := httprouter.New()
	router.Handler(http.MethodGet, "/metrics", promhttp.Handler())
	router.GET("/debug/ping", func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "pong")
	})

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           localhostOnly(router),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Serve runs the debug server until ctx is canceled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("metrics: listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// localhostOnly rejects any request whose RemoteAddr is not loopback,
// matching the teacher's localhostMiddleware reasoning: this endpoint
// is a debugging aid, never meant to be reachable off-host.
func localhostOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
			l.Warnf("rejecting debug request from non-loopback address %s", r.RemoteAddr)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func addressIsLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if host == "" || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "[") {
		host = strings.Trim(host, "[]")
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
