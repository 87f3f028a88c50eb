// Command client connects to a group chat server, performs the
// authenticate-and-join handshake, and then runs the protocol participant
// against a bare terminal UI.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"

	"go.uber.org/zap"

	"github.com/arlc/groupchat/internal/client"
)

func main() {
	username := flag.String("name", "", "your username in the chat session (required)")
	serverIP := flag.String("server", "127.0.0.1", "server IP or hostname")
	port := flag.Int("port", 9000, "server TCP port")
	debug := flag.Bool("debug", false, "print debug lines to the console")
	flag.Parse()

	if *username == "" {
		log.Fatalln("-name is required")
	}

	addr := net.JoinHostPort(*serverIP, fmt.Sprint(*port))
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		log.Fatalln("dial server:", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalln("build logger:", err)
	}
	defer logger.Sync()

	ui := client.NewConsoleUI(os.Stdin, os.Stdout, *debug)
	participant, err := client.New(conn, ui, logger)
	if err != nil {
		log.Fatalln("create participant:", err)
	}

	if err := participant.Join(*username); err != nil {
		log.Fatalln("join:", err)
	}

	ui.Status(fmt.Sprintf("connected to %s as %s", addr, *username))
	participant.Run()
}
