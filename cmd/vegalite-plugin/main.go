package main

import (
	"log"
	"os"

	"github.com/grafana/grafana-plugin-sdk-go/backend"

	"github.com/yourusername/vegalite-server/pkg/app"
	"github.com/yourusername/vegalite-server/pkg/config"
)

const pluginID = "vegalite-server-app"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("failed to create app: %v", err)
	}
	defer a.Close()

	err = backend.Manage(pluginID, backend.ServeOpts{
		CallResourceHandler: a.Handler,
		CheckHealthHandler:  a.Handler,
	})
	if err != nil {
		log.Printf("plugin exited: %v", err)
		a.Close()
		os.Exit(1)
	}
}
