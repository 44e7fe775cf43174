// Package main runs a demo WebSocket client for gateway events.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Create a subscription so the dispatch below has something to match
	body := []byte(`{"orgId":"org_demo","url":"https://example.com/hook","events":["order.created"]}`)
	req, _ := http.NewRequest(http.MethodPost, base+"/v1/subscriptions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Org-Id", "org_demo")
	req.Header.Set("X-Role", "admin")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var sub struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		log.Fatal(err)
	}
	log.Printf("Subscription ID: %s", sub.ID)

	// Connect WS
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/events/ws", RawQuery: "orgId=org_demo"}
	hdr := http.Header{}
	hdr.Set("X-Org-Id", "org_demo")
	hdr.Set("X-Role", "admin")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
		}
	}()

	// Dispatch an event and watch it arrive on the stream
	time.Sleep(500 * time.Millisecond)
	evBody := []byte(`{"eventType":"order.created","data":{"orderId":"ord_123","amount":4999}}`)
	evReq, _ := http.NewRequest(http.MethodPost, base+"/v1/events", bytes.NewReader(evBody))
	evReq.Header.Set("Content-Type", "application/json")
	evReq.Header.Set("X-Org-Id", "org_demo")
	evReq.Header.Set("X-Role", "admin")
	_, _ = http.DefaultClient.Do(evReq)

	// Wait briefly to receive a few messages
	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
