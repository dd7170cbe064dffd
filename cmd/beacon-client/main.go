// beacon-client sends sample beacons to a running collector.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "Collector base URL")
	site := flag.String("site", "https://example.com", "Origin of the tracked site")
	visitors := flag.Int("visitors", 3, "Number of simulated visitors")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}
	pages := []string{"/", "/pricing", "/blog/launch?utm_source=newsletter", "/docs#install"}
	referrers := []string{"", "https://www.google.com/search?q=beacon", "https://news.ycombinator.com/", "https://partner.example.org/links"}

	sent := 0
	for v := 0; v < *visitors; v++ {
		sid := uuid.NewString()
		for i, page := range pages {
			payload := map[string]any{
				"url": *site + page,
				"sid": sid,
				"ref": referrers[(v+i)%len(referrers)],
				"scr": "1920x1080",
				"tz":  "Europe/Berlin",
				"ts":  time.Now().UnixMilli(),
			}
			if i == 2 {
				payload["utm_source"] = "newsletter"
				payload["utm_campaign"] = "spring-launch"
			}
			if err := send(client, *addr, payload); err != nil {
				log.Fatalf("Failed to send pageview: %v", err)
			}
			sent++
		}

		signup := map[string]any{
			"url":   *site + "/pricing",
			"sid":   sid,
			"evt":   "signup",
			"props": map[string]any{"plan": "pro", "visitor": v},
		}
		if err := send(client, *addr, signup); err != nil {
			log.Fatalf("Failed to send custom event: %v", err)
		}
		sent++
	}

	fmt.Printf("Sent %d beacons for %d visitors\n", sent, *visitors)

	fmt.Println("Sending an invalid beacon")
	if err := send(client, *addr, map[string]any{"url": "ftp://example.com", "sid": "bad sid!"}); err != nil {
		fmt.Printf("Rejected as expected: %v\n", err)
	}
}

func send(client *http.Client, addr string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := client.Post(addr+"/api/event", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
