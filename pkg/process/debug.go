// Copyright (C) 2024 Open Ownership
// See LICENSE for copying information.

package process

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"

	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"
	"gopkg.in/spacemonkeygo/monkit.v2/present"
)

var debugAddr = flag.String("debug.addr", "", "address to listen on for debug endpoints")

// InitDebug starts the pprof and monitoring endpoints when debug.addr is set.
func InitDebug(logger *zap.Logger, r *monkit.Registry) error {
	if *debugAddr == "" {
		return nil
	}

	var mux http.ServeMux
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/mon/", http.StripPrefix("/mon", present.HTTP(r)))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintln(w, "OK")
	})

	ln, err := net.Listen("tcp", *debugAddr)
	if err != nil {
		return Error.Wrap(err)
	}
	go func() {
		logger.Debug(fmt.Sprintf("debug server listening on %s", ln.Addr().String()))
		if err := (&http.Server{Handler: &mux}).Serve(ln); err != nil {
			logger.Error("debug server died", zap.Error(err))
		}
	}()
	return nil
}
