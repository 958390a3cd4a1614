package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Init creates a new configuration file with example content.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	example := Config{
		Gateway: GatewayConfig{
			BaseURL:      "http://signal-gateway:8080",
			Number:       "${SIGNAL_NUMBER}",
			PollInterval: Duration(2 * time.Second),
		},
		DataDir: "./data",
		HTTP:    HTTPConfig{Listen: ":9621"},
		Events: EventsConfig{
			Enabled: false,
			URL:     "nats://localhost:4222",
			Stream:  "HOMEHUB",
			Subject: "homehub.events",
		},
		History: HistoryConfig{
			Retention: Duration(90 * 24 * time.Hour),
		},
		Bots: BotsConfig{
			Budget: &BudgetConfig{
				Route:        RouteConfig{InternalID: "${BUDGET_INTERNAL_ID}", Recipient: "${BUDGET_RECIPIENT}"},
				WeeklyAmount: 20,
			},
			Bins: &BinsConfig{
				Route:      RouteConfig{InternalID: "${BINS_INTERNAL_ID}", Recipient: "${BINS_RECIPIENT}"},
				CouncilURL: "https://example-council.gov.uk/bin-collections/YOUR_UPRN",
			},
			Trains: &TrainsConfig{
				Route:      RouteConfig{InternalID: "${TRAINS_INTERNAL_ID}", Recipient: "${TRAINS_RECIPIENT}"},
				Token:      "${LDB_TOKEN}",
				DefaultCRS: "KGX",
			},
			Camera: &CameraConfig{
				Route:     RouteConfig{InternalID: "${CAMERA_INTERNAL_ID}", Recipient: "${CAMERA_RECIPIENT}"},
				NVRURL:    "http://nvr.local:7443",
				APIKey:    "${NVR_API_KEY}",
				Monitored: []string{"Front Door"},
			},
			Reminder: &ReminderConfig{
				Route: RouteConfig{InternalID: "${REMINDER_INTERNAL_ID}", Recipient: "${REMINDER_RECIPIENT}"},
			},
		},
	}

	data, err := yaml.Marshal(&example)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
