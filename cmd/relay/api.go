package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

type apiPeer struct {
	ID      string    `json:"id"`
	Remote  string    `json:"remote"`
	Created time.Time `json:"created"`
}

type apiResponse struct {
	Created time.Time `json:"created"`
	Peers   []apiPeer `json:"peers"`
}

func apiHandler(relay *Relay) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := &apiResponse{
			Created: relay.Created,
			Peers:   []apiPeer{},
		}

		for _, c := range relay.Peers() {
			resp.Peers = append(resp.Peers, apiPeer{
				ID:      c.ID,
				Remote:  c.Remote,
				Created: c.Created,
			})
		}

		w.Header().Set("Content-Type", "application/json")

		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logrus.Errorf("Failed to encode API response: %s", err)
		}
	}
}
