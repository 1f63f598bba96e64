// Command rstunc runs a QUIC tunnel client configured entirely from the
// environment.
package main

import (
	"context"
	"os"

	"github.com/AdguardTeam/golibs/log"

	"github.com/rstunc/rstunc/internal/client"
	"github.com/rstunc/rstunc/internal/config"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Error("loading configuration: %s", err)
		os.Exit(1)
	}

	if len(cfg.Tunnels) == 0 {
		log.Error("no tunnels configured; set RSTUNC_TUNNELS_FILE")
		os.Exit(1)
	}

	c := client.New(cfg)
	c.StartTunneling(context.Background())
}
