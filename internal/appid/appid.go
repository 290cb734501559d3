package appid

import (
	"context"

	"github.com/fulmenhq/gofulmen/appidentity"
)

// identity is the static application identity for piilens.
//
// The gateway ships as a standalone binary, so identity is compiled in rather
// than discovered from an external `.fulmen/app.yaml`.
var identity = &appidentity.Identity{
	BinaryName:  "piilens",
	ConfigName:  "piilens",
	EnvPrefix:   "PIILENS",
	Description: "PII text-analysis gateway with rate limiting and metrics",
}

// Get returns the application identity. The context parameter mirrors the
// gofulmen discovery signature so call sites stay uniform.
func Get(ctx context.Context) (*appidentity.Identity, error) {
	return identity, nil
}
