// Command backuppeerd runs a long-lived backuppeer process: it loads
// configuration, opens the encrypted store, and keeps the node's background
// maintenance and verification loops running until signaled to stop.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"backuppeer/internal/config"
	"backuppeer/internal/logging"
	"backuppeer/internal/peer"
)

func main() {
	env := os.Getenv("BACKUPPEER_ENV")
	cfg, err := config.Load(env)
	if err != nil {
		os.Stderr.WriteString("backuppeerd: config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logging.NewLogrus(cfg.Logging.Level, os.Stderr)

	node, err := peer.New(cfg, log)
	if err != nil {
		log.Errorf("node init: %v", err)
		os.Exit(1)
	}
	node.Start()
	log.Infof("backuppeerd started, home=%s", cfg.Home)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Infof("backuppeerd shutting down")
	node.Stop()
}
