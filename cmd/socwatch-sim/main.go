// Package main is a traffic simulator for socwatch. It generates plausible
// security events and posts them to the ingestion endpoint, for demos and
// load checks against a running instance.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

var attackTypes = []string{
	"Brute Force Attack",
	"SQL Injection",
	"DDoS Attack",
	"Malware Detection",
	"Phishing Attempt",
	"Port Scan",
	"Unauthorized Access",
	"Data Exfiltration",
	"Ransomware",
	"Zero-Day Exploit",
}

var countries = []string{"Russia", "China", "North Korea", "Iran", "Unknown"}

var assets = []string{"Web Server", "Database", "Email Server", "Firewall", "Workstation"}

var protocols = []string{"TCP", "UDP", "HTTP", "HTTPS", "SSH", "FTP"}

var ports = []int{22, 80, 443, 3306, 5432, 8080, 21}

// severity distribution skews toward medium and low; critical is rare.
var severities = []struct {
	level  string
	weight int
}{
	{"Critical", 5},
	{"High", 15},
	{"Medium", 30},
	{"Low", 35},
	{"Info", 15},
}

type event struct {
	Timestamp     time.Time `json:"timestamp"`
	Severity      string    `json:"severity"`
	AttackType    string    `json:"attack_type"`
	SourceIP      string    `json:"source_ip"`
	DestinationIP string    `json:"destination_ip"`
	Country       string    `json:"country"`
	Blocked       bool      `json:"blocked"`
	Description   string    `json:"description"`
	AffectedAsset string    `json:"affected_asset"`
	Protocol      string    `json:"protocol"`
	Port          int       `json:"port"`
}

func main() {
	target := flag.String("target", "http://localhost:8080", "base URL of the socwatch instance")
	rate := flag.Float64("rate", 2, "events per second")
	count := flag.Int("count", 0, "number of events to send (0 = until interrupted)")
	seed := flag.Int64("seed", 0, "random seed (0 = time-based)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(*seed))

	client := &http.Client{Timeout: 5 * time.Second}
	url := *target + "/events"

	interval := time.Duration(float64(time.Second) / *rate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("simulator started", "target", url, "rate", *rate, "seed", *seed)

	sent, failed := 0, 0
	for {
		select {
		case <-quit:
			logger.Info("simulator stopped", "sent", sent, "failed", failed)
			return
		case <-ticker.C:
			if err := post(client, url, generate(rng)); err != nil {
				failed++
				logger.Warn("post failed", "error", err)
			} else {
				sent++
			}

			if *count > 0 && sent >= *count {
				logger.Info("simulator finished", "sent", sent, "failed", failed)
				return
			}
		}
	}
}

// generate produces one plausible event.
func generate(rng *rand.Rand) event {
	attackType := attackTypes[rng.Intn(len(attackTypes))]
	sourceIP := randomIP(rng)
	country := countries[rng.Intn(len(countries))]

	return event{
		Timestamp:     time.Now().UTC(),
		Severity:      weightedSeverity(rng),
		AttackType:    attackType,
		SourceIP:      sourceIP,
		DestinationIP: fmt.Sprintf("192.168.1.%d", rng.Intn(254)+1),
		Country:       country,
		Blocked:       rng.Intn(2) == 0,
		Description:   fmt.Sprintf("%s detected from %s (%s)", attackType, sourceIP, country),
		AffectedAsset: assets[rng.Intn(len(assets))],
		Protocol:      protocols[rng.Intn(len(protocols))],
		Port:          ports[rng.Intn(len(ports))],
	}
}

func weightedSeverity(rng *rand.Rand) string {
	total := 0
	for _, s := range severities {
		total += s.weight
	}

	n := rng.Intn(total)
	for _, s := range severities {
		if n < s.weight {
			return s.level
		}
		n -= s.weight
	}
	return severities[len(severities)-1].level
}

func randomIP(rng *rand.Rand) string {
	return fmt.Sprintf("%d.%d.%d.%d",
		rng.Intn(255)+1, rng.Intn(256), rng.Intn(256), rng.Intn(255)+1)
}

func post(client *http.Client, url string, e event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}

	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
