package main

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/stv0g/robot-teleop/client"
)

type supervisor interface {
	Status() client.Status
	SetTarget(peerID string)
}

type targetRequest struct {
	Robot string `json:"robot"`
}

func newMux(s supervisor) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.Write([]byte("OK"))
	})
	mux.HandleFunc("/api/v1/status", statusHandler(s))
	mux.HandleFunc("/api/v1/target", targetHandler(s))

	return mux
}

func statusHandler(s supervisor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if err := json.NewEncoder(w).Encode(s.Status()); err != nil {
			logrus.Errorf("Failed to encode API response: %s", err)
		}
	}
}

// targetHandler lets an operator UI pin the robot to connect to.
func targetHandler(s supervisor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut && r.Method != http.MethodPost {
			w.Header().Set("Allow", "PUT, POST")
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req targetRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
			http.Error(w, "Invalid request: "+err.Error(), http.StatusBadRequest)
			return
		}

		logrus.Infof("Operator selected robot: %q", req.Robot)

		s.SetTarget(req.Robot)

		w.WriteHeader(http.StatusAccepted)
	}
}
