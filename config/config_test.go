package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Run("loads with defaults when no env vars set", func(t *testing.T) {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load() error = %v, want nil", err)
		}

		if cfg.Server.Port != "8080" {
			t.Errorf("Server.Port = %s, want 8080", cfg.Server.Port)
		}
		if got := strings.Join(cfg.Crawl.Partitions, ","); got != "de,fr,it,be,tn" {
			t.Errorf("Crawl.Partitions = %s, want de,fr,it,be,tn", got)
		}
		if cfg.Crawl.Strategy != "paginated" {
			t.Errorf("Crawl.Strategy = %s, want paginated", cfg.Crawl.Strategy)
		}
		if cfg.Crawl.MaxListings != 200 {
			t.Errorf("Crawl.MaxListings = %d, want 200", cfg.Crawl.MaxListings)
		}
		if !cfg.Crawl.DetailPages {
			t.Error("Crawl.DetailPages = false, want true")
		}
		if cfg.Gate.MaxConcurrent != 5 {
			t.Errorf("Gate.MaxConcurrent = %d, want 5", cfg.Gate.MaxConcurrent)
		}
		if cfg.Gate.BaseDelay != 500*time.Millisecond {
			t.Errorf("Gate.BaseDelay = %v, want 500ms", cfg.Gate.BaseDelay)
		}
		if cfg.Gate.SpeedupFactor != 0.75 {
			t.Errorf("Gate.SpeedupFactor = %v, want 0.75", cfg.Gate.SpeedupFactor)
		}
		if cfg.Cleaning.PriceFloor != 500 {
			t.Errorf("Cleaning.PriceFloor = %v, want 500", cfg.Cleaning.PriceFloor)
		}
		if got := strings.Join(cfg.Cleaning.AllowedFuelTypes, ","); got != "petrol,diesel,electric,hybrid,plug-in hybrid,hybrid_rechargeable" {
			t.Errorf("Cleaning.AllowedFuelTypes = %q", got)
		}
		if cfg.Cache.TTL != 24*time.Hour {
			t.Errorf("Cache.TTL = %v, want 24h", cfg.Cache.TTL)
		}
		if len(cfg.Output.Sinks) != 1 || cfg.Output.Sinks[0] != "json" {
			t.Errorf("Output.Sinks = %v, want [json]", cfg.Output.Sinks)
		}
		if cfg.Log.Format != "text" {
			t.Errorf("Log.Format = %s, want text", cfg.Log.Format)
		}
	})

	t.Run("loads custom values from environment variables", func(t *testing.T) {
		t.Setenv("CARSCRAPER_CRAWL_PARTITIONS", "TN, de")
		t.Setenv("CARSCRAPER_CRAWL_STRATEGY", "Taxonomy")
		t.Setenv("CARSCRAPER_CRAWL_MAKES", "bmw,audi")
		t.Setenv("CARSCRAPER_GATE_MAX_CONCURRENT", "8")
		t.Setenv("CARSCRAPER_GATE_BASE_DELAY", "2s")
		t.Setenv("CARSCRAPER_OUTPUT_SINKS", "json,kafka")
		t.Setenv("CARSCRAPER_OUTPUT_KAFKA_BROKERS", "k1:9092,k2:9092")
		t.Setenv("CARSCRAPER_LOG_FORMAT", "JSON")

		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load() error = %v, want nil", err)
		}

		if got := strings.Join(cfg.Crawl.Partitions, ","); got != "tn,de" {
			t.Errorf("Crawl.Partitions = %s, want tn,de", got)
		}
		if cfg.Crawl.Strategy != "taxonomy" {
			t.Errorf("Crawl.Strategy = %s, want taxonomy", cfg.Crawl.Strategy)
		}
		if len(cfg.Crawl.Makes) != 2 {
			t.Errorf("Crawl.Makes = %v, want 2 makes", cfg.Crawl.Makes)
		}
		if cfg.Gate.MaxConcurrent != 8 {
			t.Errorf("Gate.MaxConcurrent = %d, want 8", cfg.Gate.MaxConcurrent)
		}
		if cfg.Gate.BaseDelay != 2*time.Second {
			t.Errorf("Gate.BaseDelay = %v, want 2s", cfg.Gate.BaseDelay)
		}
		if len(cfg.Output.KafkaBrokers) != 2 {
			t.Errorf("Output.KafkaBrokers = %v, want 2 brokers", cfg.Output.KafkaBrokers)
		}
		if cfg.Log.Format != "json" {
			t.Errorf("Log.Format = %s, want json", cfg.Log.Format)
		}
	})

	t.Run("loads an explicit config file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "scraper.yaml")
		content := "crawl:\n  partitions: [fr]\n  condition: used\ngate:\n  max_retries: 5\n"
		if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}

		cfg, err := Load(file)
		if err != nil {
			t.Fatalf("Load() error = %v, want nil", err)
		}
		if len(cfg.Crawl.Partitions) != 1 || cfg.Crawl.Partitions[0] != "fr" {
			t.Errorf("Crawl.Partitions = %v, want [fr]", cfg.Crawl.Partitions)
		}
		if cfg.Crawl.Condition != "used" {
			t.Errorf("Crawl.Condition = %s, want used", cfg.Crawl.Condition)
		}
		if cfg.Gate.MaxRetries != 5 {
			t.Errorf("Gate.MaxRetries = %d, want 5", cfg.Gate.MaxRetries)
		}
	})

	t.Run("fails when the explicit config file is missing", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
			t.Error("Load() error = nil, want error")
		}
	})
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "unknown strategy",
			env:     map[string]string{"CARSCRAPER_CRAWL_STRATEGY": "random"},
			wantErr: "crawl strategy",
		},
		{
			name:    "unknown condition",
			env:     map[string]string{"CARSCRAPER_CRAWL_CONDITION": "mint"},
			wantErr: "crawl condition",
		},
		{
			name:    "min price above max price",
			env:     map[string]string{"CARSCRAPER_CRAWL_MIN_PRICE": "9000", "CARSCRAPER_CRAWL_MAX_PRICE": "1000"},
			wantErr: "exceeds max_price",
		},
		{
			name:    "zero concurrency",
			env:     map[string]string{"CARSCRAPER_GATE_MAX_CONCURRENT": "0"},
			wantErr: "max_concurrent",
		},
		{
			name:    "zero retries",
			env:     map[string]string{"CARSCRAPER_GATE_MAX_RETRIES": "0"},
			wantErr: "max_retries",
		},
		{
			name:    "speedup factor above one",
			env:     map[string]string{"CARSCRAPER_GATE_SPEEDUP_FACTOR": "1.5"},
			wantErr: "speedup_factor",
		},
		{
			name:    "slowdown factor below one",
			env:     map[string]string{"CARSCRAPER_GATE_SLOWDOWN_FACTOR": "0.5"},
			wantErr: "slowdown_factor",
		},
		{
			name:    "unknown sink",
			env:     map[string]string{"CARSCRAPER_OUTPUT_SINKS": "json,ftp"},
			wantErr: "unknown output sink",
		},
		{
			name:    "postgres sink without dsn",
			env:     map[string]string{"CARSCRAPER_OUTPUT_SINKS": "postgres"},
			wantErr: "postgres DSN",
		},
		{
			name:    "rabbitmq sink without url",
			env:     map[string]string{"CARSCRAPER_OUTPUT_SINKS": "rabbitmq"},
			wantErr: "RabbitMQ URL",
		},
		{
			name:    "unknown log format",
			env:     map[string]string{"CARSCRAPER_LOG_FORMAT": "xml"},
			wantErr: "log format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load("")
			if err == nil {
				t.Fatal("Load() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}
