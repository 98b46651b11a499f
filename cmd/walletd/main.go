// Package main: wallet service.
//
// The wallet service exposes the RESTful API of the gateway: deposit address derivation,
// balances, deposit sweeps into the hot wallet and client withdrawals. It shares the
// database with the scan service and consumes its deposit events from the message broker.
package main

import (
	"encoding/hex"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tarancss/hd"

	"github.com/chainward/gateway/lib/chain"
	"github.com/chainward/gateway/lib/config"
	"github.com/chainward/gateway/lib/msg"
	"github.com/chainward/gateway/lib/msg/amqp"
	"github.com/chainward/gateway/lib/report"
	"github.com/chainward/gateway/lib/store"
	"github.com/chainward/gateway/lib/store/db"
	"github.com/chainward/gateway/service"
)

func main() {
	// get command line flags
	confPath := flag.String("c", "", "flag to get configuration from json file")
	monitor := flag.Bool("m", false, "flag to monitor the server with Prometheus")
	flag.Parse()

	// extract configuration
	conf, err := config.ExtractConfiguration(*confPath)
	if err != nil {
		panic(err)
	}

	log.Printf("Configuration:%+v", conf)

	// connect to database
	var dbConn store.DB

	if conf.DbConn != "" {
		log.Printf("Connecting to database:%+v\n", conf.DbConn)

		if dbConn, err = db.New(conf.DbType, conf.DbConn); err != nil {
			panic(err)
		}
	}

	// load all blockchain adapters
	adapters, err := chain.Init(conf.Bc, conf.Currencies)
	if err != nil {
		panic(err)
	}

	log.Print("Blockchain adapters loaded")

	// load Prometheus monitor
	if *monitor {
		go func() {
			log.Println("Serving metrics API")

			h := http.NewServeMux()

			h.Handle("/metrics", promhttp.Handler())
			_ = http.ListenAndServe(":"+conf.MetricsPort, h)
		}()
	}

	// load message broker
	var mb msg.MsgBroker

	switch conf.MbType {
	case "amqp":
		if mb, err = amqp.New(conf.MbConn); err != nil {
			time.Sleep(10 * time.Second) // wait 10s for AMQP to be ready and try to reconnect

			if mb, err = amqp.New(conf.MbConn); err != nil {
				panic(err)
			}
		}

		if err = mb.Setup(); err != nil {
			panic(err)
		}
	default:
		log.Printf("Unknown message broker type: %s\n", conf.MbType)
	}

	// load HD wallet
	seed, err := hex.DecodeString(conf.Seed)
	if err != nil {
		panic(err)
	}

	hdw, err := hd.Init(seed)
	if err != nil {
		panic(err)
	}

	// create wallet service
	s := service.New(conf.DbType, dbConn, mb, adapters, conf.Currencies, hdw, report.Log{Tag: "walletd"})

	// capture CTRL+C or docker's SIGTERM for gracious exit
	finish := make(chan int)

	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Println("Program killed !")
		// do last actions and wait for all write operations to end
		s.Stop()
		close(finish)
	}()

	// consume deposit events from the scan service
	if err := s.ManageEvents(); err != nil {
		log.Printf("Error setting up broker readers for events:%v", err)
	}

	// init RESTful API, wait for its return and log response
	log.Printf("Wallet: %s\n", s.Init(conf.RestfulEndpoint, conf.Port, conf.SSLPort, conf.SSLCert, conf.SSLKey))

	<-finish
}
