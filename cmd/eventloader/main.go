package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/eventloader/cmd/eventloader/cmd"
	"github.com/armadaproject/eventloader/internal/common/logging"
)

func main() {
	logging.ConfigureDefaultLogging()
	root := cmd.RootCmd()
	if err := root.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
