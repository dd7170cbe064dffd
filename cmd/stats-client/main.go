// stats-client prints the dashboard numbers served by a running collector.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "Collector base URL")
	period := flag.String("period", "24h", "Window: 1h, 24h, 7d, 30d or 90d")
	password := flag.String("password", "", "Dashboard password, if authentication is enabled")
	flag.Parse()

	jar, err := cookiejar.New(nil)
	if err != nil {
		log.Fatalf("Failed to create cookie jar: %v", err)
	}
	client := &http.Client{Timeout: 10 * time.Second, Jar: jar}

	if *password != "" {
		body, _ := json.Marshal(map[string]string{"password": *password})
		resp, err := client.Post(*addr+"/api/login", "application/json", bytes.NewReader(body))
		if err != nil {
			log.Fatalf("Login failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			log.Fatalf("Login failed: status %d", resp.StatusCode)
		}
	}

	query := url.Values{"period": {*period}}.Encode()
	for _, endpoint := range []string{"realtime", "overview", "pages", "referrers", "countries", "campaigns", "events"} {
		var out any
		if err := getJSON(client, *addr+"/api/stats/"+endpoint+"?"+query, &out); err != nil {
			log.Fatalf("Failed to fetch %s: %v", endpoint, err)
		}
		pretty, _ := json.MarshalIndent(out, "", "  ")
		fmt.Printf("== %s ==\n%s\n\n", endpoint, pretty)
	}
}

func getJSON(client *http.Client, target string, out any) error {
	resp, err := client.Get(target)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
