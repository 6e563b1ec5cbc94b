// Command ws_client is a demo client: it opens the run-events websocket,
// kicks off an optimization with a few inline orders, and prints the events
// as they arrive.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)
	wsURL := fmt.Sprintf("ws://localhost:%s/v1/runs/events/ws", port)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Fatalf("dial %s: %v", wsURL, err)
	}
	defer func() { _ = conn.Close() }()
	log.Printf("listening for run events on %s", wsURL)

	go func() {
		body := []byte(`{
			"depot": {"name": "demo", "location": {"lat": 40.015, "lng": -105.27}},
			"orders": [
				{"id": "o1", "location": {"lat": 40.02, "lng": -105.26}},
				{"id": "o2", "location": {"lat": 40.03, "lng": -105.28}},
				{"id": "o3", "location": {"lat": 40.01, "lng": -105.25}}
			],
			"useClustering": false
		}`)
		req, _ := http.NewRequest(http.MethodPost, base+"/v1/optimize", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer dispatcher")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			log.Printf("optimize request failed: %v", err)
			return
		}
		defer func() { _ = resp.Body.Close() }()
		var out map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&out)
		log.Printf("optimize responded %d runId=%v status=%v", resp.StatusCode, out["runId"], out["solverStatus"])
	}()

	deadline := time.After(30 * time.Second)
	events := make(chan map[string]any)
	go func() {
		for {
			var evt map[string]any
			if err := conn.ReadJSON(&evt); err != nil {
				close(events)
				return
			}
			events <- evt
		}
	}()
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				log.Println("connection closed")
				return
			}
			b, _ := json.Marshal(evt)
			log.Printf("event: %s", b)
		case <-deadline:
			log.Println("done")
			return
		}
	}
}
