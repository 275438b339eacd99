package main

import (
	"net/http"
	"os"
	"time"
)

func main() {
	addr := "http://localhost:8080/healthz"
	if port := os.Getenv("MEETPOINT_PORT"); port != "" {
		addr = "http://localhost:" + port + "/healthz"
	}
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(addr)
	if err != nil || resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}
