// Package service exposes a read-only HTTP API over the running nodes:
// stats, channels and the peer address book.
package service

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/taut-ln/taut/src/node"
	"github.com/taut-ln/taut/src/peers"
	"github.com/taut-ln/taut/src/version"
)

// Service serves the status API for every node in this process.
type Service struct {
	sync.Mutex

	bindAddress string
	nodes       []*node.Node
	peerStore   peers.PeerStore
	logger      *logrus.Entry
}

// NewService ...
func NewService(bindAddress string, nodes []*node.Node, peerStore peers.PeerStore, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		nodes:       nodes,
		peerStore:   peerStore,
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

// registerHandlers registers the API handlers with the DefaultServerMux of
// the http package.
func (s *Service) registerHandlers() {
	s.logger.Debug("Registering API handlers")
	http.HandleFunc("/stats", s.makeHandler(s.GetStats))
	http.HandleFunc("/channels", s.makeHandler(s.GetChannels))
	http.HandleFunc("/peers", s.makeHandler(s.GetPeers))
	http.HandleFunc("/version", s.makeHandler(s.GetVersion))
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Serve calls ListenAndServe. This is a blocking call.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving status API")

	// Use the DefaultServerMux
	err := http.ListenAndServe(s.bindAddress, nil)
	if err != nil {
		s.logger.Error(err)
	}
}

// GetStats returns one stats block per managed node.
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := make([]map[string]string, 0, len(s.nodes))
	for _, n := range s.nodes {
		stats = append(stats, n.Stats())
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(stats)
}

// GetChannels returns the channels of every managed node, keyed by moniker.
func (s *Service) GetChannels(w http.ResponseWriter, r *http.Request) {
	channels := map[string]interface{}{}
	for _, n := range s.nodes {
		channels[n.Moniker()] = n.Channels()
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(channels)
}

// GetPeers returns the address book.
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	known, err := s.peerStore.Peers()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(known)
}

// GetVersion ...
func (s *Service) GetVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(map[string]string{"version": version.Version})
}
