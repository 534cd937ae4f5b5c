package main

import (
	"github.com/davstore/davstore/internal/app"
	"github.com/davstore/davstore/internal/config"
)

func main() {
	cfg := config.GetConfig()

	app.Run(cfg)
}
