// Command simulate posts synthetic water-level readings to a running flood
// monitor, standing in for physical river gauges during demos and load tests.
// Levels follow a slow sine wave per device, with a periodic flood spike on
// the first device to exercise rapid-rise detection and alerting.
//
// Usage:
//
//	go run ./cmd/simulate \
//	  -url http://localhost:8080 \
//	  -username admin -password admin123 \
//	  -interval 10s
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/couchcryptid/flood-monitor-service/internal/domain"
	"github.com/couchcryptid/flood-monitor-service/internal/engine"
)

var devices = []domain.Device{
	{ID: "river_001", Name: "Klang River - Ampang", Location: "Ampang, Selangor"},
	{ID: "river_002", Name: "Gombak River - Sentul", Location: "Sentul, KL"},
	{ID: "drain_001", Name: "Pandan Drain - Cheras", Location: "Cheras, KL"},
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	baseURL := flag.String("url", "http://localhost:8080", "flood monitor base URL")
	username := flag.String("username", "admin", "admin username for device registration")
	password := flag.String("password", "admin123", "admin password for device registration")
	interval := flag.Duration("interval", 10*time.Second, "delay between reading rounds")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}

	if err := registerDevices(client, *baseURL, *username, *password); err != nil {
		// Devices may already exist; keep going and let /readings decide.
		log.Printf("device registration: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	log.Printf("sending readings every %s to %s", *interval, *baseURL)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for t := 0.0; ; t += interval.Seconds() {
		for idx, device := range devices {
			level := waterLevel(idx, t)
			if err := postReading(client, *baseURL, device.ID, level); err != nil {
				log.Printf("[%s] %v", device.ID, err)
			}
		}

		select {
		case <-stop:
			log.Println("simulator stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// registerDevices logs in and registers the simulated devices, tolerating
// already-registered conflicts.
func registerDevices(client *http.Client, baseURL, username, password string) error {
	form := url.Values{"username": {username}, "password": {password}}
	resp, err := client.Post(baseURL+"/auth/token",
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("get admin token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get admin token: status %d", resp.StatusCode)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return fmt.Errorf("decode token response: %w", err)
	}

	for _, device := range devices {
		payload, err := json.Marshal(device)
		if err != nil {
			return err
		}
		req, err := http.NewRequest(http.MethodPost, baseURL+"/devices", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+tokenResp.AccessToken)

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("register %s: %w", device.ID, err)
		}
		resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusCreated:
			log.Printf("registered %s", device.ID)
		case http.StatusConflict:
			log.Printf("%s already registered", device.ID)
		default:
			return fmt.Errorf("register %s: status %d", device.ID, resp.StatusCode)
		}
	}
	return nil
}

func postReading(client *http.Client, baseURL, deviceID string, level float64) error {
	payload, err := json.Marshal(engine.Submission{
		DeviceID:   deviceID,
		WaterLevel: level,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	resp, err := client.Post(baseURL+"/readings", "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	var reading domain.Reading
	if err := json.NewDecoder(resp.Body).Decode(&reading); err != nil {
		return fmt.Errorf("decode reading: %w", err)
	}
	log.Printf("[%s] %.1fcm -> %s", deviceID, level, reading.RiskLevel.Label())
	return nil
}

// waterLevel generates per-device levels on a slow sine wave, with a
// periodic flood spike for the first device and a little noise.
func waterLevel(deviceIdx int, t float64) float64 {
	phase := float64(deviceIdx) * 1.2
	base := 35 + 25*math.Sin(t/120+phase)

	var spike float64
	if deviceIdx == 0 && math.Mod(t, 300) < 60 {
		spike = 40 * math.Mod(t, 300) / 60
	}

	noise := rand.Float64()*3 - 1.5
	return math.Round(math.Max(0, base+spike+noise)*10) / 10
}
