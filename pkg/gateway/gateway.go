// Package gateway provides the public API for embedding the model-switch
// gateway in another program.
package gateway

import (
	"github.com/tjfontaine/model-switch-gateway/internal/runtime"
)

// Gateway is the long-running proxy. See internal/runtime.Gateway for full documentation.
type Gateway = runtime.Gateway

// Option is a functional option for configuring a Gateway.
type Option = runtime.Option

// New creates a new Gateway with the given options.
// Example:
//
//	gw, err := gateway.New(
//	    gateway.WithProfileFile("/home/me/.claude/model-profiles.json"),
//	)
//	if err := gw.Start(ctx); err != nil { ... }
//	defer gw.Shutdown(ctx)
var New = runtime.New

// Configuration options
var (
	WithProfileFile   = runtime.WithProfileFile
	WithProfileSource = runtime.WithProfileSource
	WithSettings      = runtime.WithSettings
	WithLogger        = runtime.WithLogger
	WithJournal       = runtime.WithJournal
	WithHTTPClient    = runtime.WithHTTPClient
)
