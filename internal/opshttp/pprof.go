package opshttp

import (
	"net/http"
	"net/http/pprof"
)

// RegisterPprof attaches the pprof handlers to mux. net/http/pprof only
// self-registers on http.DefaultServeMux, which we never serve.
func RegisterPprof(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}
