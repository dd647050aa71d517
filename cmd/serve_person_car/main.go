package main

import "context"
import "flag"
import "net/http"
import "os"
import "os/signal"
import "syscall"
import "time"

import "github.com/gin-gonic/gin"
import log "github.com/sirupsen/logrus"

import "github.com/edgeml/personcar/inference"
import "github.com/edgeml/personcar/server"

const version = "v1.0.0"

func main() {
	modelPath := flag.String("m", "converted_model.qmodel", "quantized model file")
	addr := flag.String("addr", ":8080", "listen address")
	debugMode := flag.Bool("debug", false, "gin debug mode and debug logging")
	flag.Parse()

	log.Info("Starting person/car server...")
	if *debugMode {
		log.SetLevel(log.DebugLevel)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	m, err := inference.ReadFile(*modelPath)
	if err != nil {
		log.Fatal(err)
	}
	s, err := server.New(m, version)
	if err != nil {
		log.Fatal(err)
	}
	log.WithFields(log.Fields{"model": m.Name, "path": *modelPath}).Info("model loaded")

	srv := &http.Server{
		Addr:         *addr,
		Handler:      s.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()
	log.WithField("addr", *addr).Info("listening")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	log.Info("Server exiting")
}
