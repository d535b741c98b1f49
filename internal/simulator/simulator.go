// Package simulator posts randomized readings to the ingestion endpoint
// at a fixed interval, standing in for the device during development.
package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"time"

	"air-quality-backend/config"
)

// Service drives the fake-device loop.
type Service struct {
	cfg    *config.Config
	client *http.Client
	rng    *rand.Rand
}

// NewService creates a simulator targeting the configured ingest URL,
// defaulting to the local server.
func NewService(cfg *config.Config) *Service {
	return &Service{
		cfg: cfg,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run posts one reading per interval until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Simulator.Enabled {
		return
	}
	log.Println("Device simulator enabled. Posting fake readings.")

	interval := time.Duration(s.cfg.Simulator.IntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Device simulator shutting down.")
			return
		case <-ticker.C:
			if err := s.PostOnce(ctx); err != nil {
				log.Printf("Simulator post failed: %v", err)
			}
		}
	}
}

// PostOnce sends a single randomized reading.
func (s *Service) PostOnce(ctx context.Context) error {
	// Plausible urban µg/m³ ranges; pm2_5 tracks below pm10.
	pm25 := 5 + s.rng.Float64()*30
	payload := map[string]any{
		"pm1_0": pm25 * (0.5 + s.rng.Float64()*0.3),
		"pm2_5": pm25,
		"pm10":  pm25 * (1.2 + s.rng.Float64()*0.8),
	}
	if s.cfg.Ingest.APIKey != "" {
		payload["api_key"] = s.cfg.Ingest.APIKey
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.targetURL(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ingest endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *Service) targetURL() string {
	if s.cfg.Simulator.TargetURL != "" {
		return s.cfg.Simulator.TargetURL
	}
	return fmt.Sprintf("http://localhost:%d/", s.cfg.Server.Port)
}
