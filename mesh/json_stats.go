/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package mesh

import (
	"encoding/json"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"
)

// JSONStats serves engine counters and process stats over HTTP for
// monitoring and for the Prometheus exporter to scrape.
type JSONStats struct {
	Stats

	sysstats SysStats
}

// NewJSONStats returns a new JSONStats.
func NewJSONStats() *JSONStats {
	return &JSONStats{}
}

// Start runs the monitoring http server.
func (s *JSONStats) Start(monitoringPort int) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRootRequest)
	mux.HandleFunc("/counters", s.handleRootRequest)
	addr := fmt.Sprintf(":%d", monitoringPort)
	log.Infof("starting http json server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("failed to start listener: %v", err)
	}
}

// handleRootRequest serves all counters as a flat JSON map.
func (s *JSONStats) handleRootRequest(w http.ResponseWriter, _ *http.Request) {
	counters := s.Snapshot()
	sys, err := s.sysstats.CollectRuntimeStats()
	if err != nil {
		log.Warningf("failed to get system metrics: %v", err)
	} else {
		for k, v := range sys {
			counters[k] = v
		}
	}
	js, err := json.Marshal(counters)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err = w.Write(js); err != nil {
		log.Errorf("failed to reply: %v", err)
	}
}
