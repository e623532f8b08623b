package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jkivinie/stave/collab"
	"github.com/jkivinie/stave/version"
)

var addr = flag.String("addr", ":7580", "listen address for the collaboration relay")
var verbose = flag.Bool("verbose", false, "enable debug logging")
var versionFlag = flag.Bool("v", false, "print version")

func main() {
	flag.Parse()
	if *versionFlag {
		fmt.Println(version.String())
		os.Exit(0)
	}
	log := logrus.New()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	relay := collab.NewServer(log)
	mux := http.NewServeMux()
	mux.Handle("/ws", relay)
	srv := &http.Server{Addr: *addr, Handler: mux}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Info("shutting down")
		relay.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	log.WithField("addr", *addr).Info("collaboration relay listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}
