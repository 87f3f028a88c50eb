// Command server runs the group chat coordinator: it accepts connections,
// assembles the session registry, and drives the Burmester-Desmedt key
// exchange for whoever is currently in the group.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"

	"go.uber.org/zap"

	"github.com/arlc/groupchat/internal/server"
)

func main() {
	port := flag.Int("port", 9000, "TCP port to listen on")
	debug := flag.Bool("debug", false, "enable debug-level logging")
	flag.Parse()

	var logger *zap.Logger
	var err error
	if *debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalln("build logger:", err)
	}
	defer logger.Sync()

	addr := net.JoinHostPort("", fmt.Sprint(*port))
	hub := server.NewHub(logger)

	logger.Info("starting group chat server", zap.String("addr", addr))
	if err := hub.ListenAndServe(addr); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
