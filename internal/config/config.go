package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	DBSource string
	Port     string
	Env      string

	// Paystack credentials. WebhookSecret defaults to the secret key, which
	// is what Paystack signs webhook bodies with.
	PaystackSecret string
	WebhookSecret  string

	// FrontendBaseURL is embedded in gateway callback URLs.
	FrontendBaseURL string

	// Notification sink (ZeptoMail HTTP API).
	ZeptoAPIURL string
	ZeptoAPIKey string
	EmailFrom   string

	// Vendor escrow sweep cadence.
	SweepInterval time.Duration
}

func Load() (*Config, error) {
	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	// Fail fast on the gateway secret rather than discovering it lazily on
	// the first charge.
	secret := os.Getenv("PAYSTACK_SECRET_KEY")
	if secret == "" {
		return nil, fmt.Errorf("PAYSTACK_SECRET_KEY environment variable is required")
	}

	webhookSecret := os.Getenv("PAYSTACK_WEBHOOK_SECRET")
	if webhookSecret == "" {
		webhookSecret = secret
	}

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	frontend := os.Getenv("FRONTEND_BASE_URL")
	if frontend == "" {
		frontend = "http://localhost:3000"
	}

	sweepInterval := 10 * time.Minute
	if raw := os.Getenv("SWEEP_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid SWEEP_INTERVAL %q: %w", raw, err)
		}
		sweepInterval = d
	}

	return &Config{
		DBSource:        dbSource,
		Port:            port,
		Env:             env,
		PaystackSecret:  secret,
		WebhookSecret:   webhookSecret,
		FrontendBaseURL: frontend,
		ZeptoAPIURL:     os.Getenv("ZEPTO_API_URL"),
		ZeptoAPIKey:     os.Getenv("ZEPTO_API_KEY"),
		EmailFrom:       os.Getenv("EMAIL_FROM"),
		SweepInterval:   sweepInterval,
	}, nil
}
