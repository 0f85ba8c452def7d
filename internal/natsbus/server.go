// Package natsbus publishes run events over NATS, optionally running an
// embedded server.
package natsbus

import (
	"errors"
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
)

// ServerConfig configures the embedded server. Port 0 picks a random port.
type ServerConfig struct {
	Host string
	Port int
}

// Server is an in-process NATS server.
type Server struct {
	server *natsserver.Server
}

// StartServer starts an embedded server and waits until it accepts
// connections.
func StartServer(cfg ServerConfig) (*Server, error) {
	port := cfg.Port
	if port == 0 {
		port = natsserver.RANDOM_PORT
	}
	opts := &natsserver.Options{
		Host:   cfg.Host,
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, errors.New("nats server not ready")
	}
	return &Server{server: ns}, nil
}

// ClientURL is the URL clients connect to.
func (s *Server) ClientURL() string {
	return s.server.ClientURL()
}

// Close shuts the server down and waits for it to exit.
func (s *Server) Close() {
	s.server.Shutdown()
	s.server.WaitForShutdown()
}
