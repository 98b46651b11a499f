package service

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

const timeout = 15

// Init sets up and starts the http/https server to service the RESTful API of the wallet
// service. If sslPort, sslCert and sslKey are informed, it will start an https (TLS) server
// on the specified endpoint.
func (s *Service) Init(endpoint, port, sslPort, sslCert, sslKey string) string {
	var err, errTLS error

	// API definition
	r := mux.NewRouter()
	r.HandleFunc("/", s.homeHandler)
	r.HandleFunc("/chains", s.chainsHandler).Methods("GET")                                     // get available blockchains
	r.HandleFunc("/balance/{address}", s.balanceHandler).Methods("GET")                         // get address balance
	r.HandleFunc("/address", s.hdAddrHandler).Methods("GET")                                    // get address from HD wallet
	r.HandleFunc("/deposit_address", s.depositAddrHandler).Methods("POST")                      // create a deposit address
	r.HandleFunc("/deposits/{currency}", s.depositsHandler).Methods("GET")                      // get deposits
	r.HandleFunc("/deposits/{currency}/{txid}/{txout}/collect", s.collectOneHandler).Methods("POST") // sweep one deposit
	r.HandleFunc("/collect/{currency}", s.collectHandler).Methods("POST")                       // sweep all accepted deposits
	r.HandleFunc("/withdraw", s.withdrawHandler).Methods("POST")                                // broadcast a client withdrawal
	http.Handle("/", r)

	// setup shutdown channel
	s.sc = make(chan struct{})

	// start http server
	if port != "" {
		s.s = &http.Server{
			Handler:      r,
			Addr:         endpoint + ":" + port,
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			err = s.s.ListenAndServe()
		}()

		log.Printf("Listening to API http requests on %s:%s", endpoint, port)
	}
	// start https server
	if sslPort != "" && sslCert != "" && sslKey != "" {
		s.ss = &http.Server{
			Handler:      r,
			Addr:         endpoint + ":" + sslPort,
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			errTLS = s.ss.ListenAndServeTLS(sslCert, sslKey)
		}()

		log.Printf("Listening to API https requests on %s:%s", endpoint, sslPort)
	}
	// wait for servers to be shutdown
	<-s.sc

	return fmt.Sprintf("shutdown http server:%v, https server:%v", err, errTLS)
}
