package config

import (
	"github.com/knadh/koanf/providers/confmap"
)

func DefaultConfig() map[string]interface{} {
	return map[string]interface{}{
		"server": map[string]interface{}{
			"addr":             ":8080",
			"read_timeout":     "15s",
			"write_timeout":    "30s",
			"shutdown_timeout": "10s",
			"gin_mode":         "release",
		},
		"database": map[string]interface{}{
			"path": "~/.notekeeper/reminders.db",
		},
		"log": map[string]interface{}{
			"level":  "info",
			"format": "text",
		},
		"scheduler": map[string]interface{}{
			"enabled":           true,
			"dispatch_interval": "15m", // dispatch check + completion sweep
			"status_interval":   "1h",  // missed sweep + completion sweep
			"dispatch_window":   "15m",
			"run_on_start":      true,
		},
		"notify": map[string]interface{}{
			"timezone":          "UTC",
			"date_layout":       "Mon, Jan 2 2006 at 3:04 PM MST",
			"timeout":           "10s",
			"sms_schedule_lead": "15m",
		},
		"sms": map[string]interface{}{
			"account_sid":           "",
			"auth_token":            "",
			"from_number":           "",
			"messaging_service_sid": "",
			"base_url":              "https://api.twilio.com",
			"rate_per_second":       1.0,
		},
		"email": map[string]interface{}{
			"host":     "",
			"port":     587,
			"username": "",
			"password": "",
			"from":     "\"Notekeeper\" <notifications@notekeeper.local>",
			"starttls": true,
		},
		"browser": map[string]interface{}{
			"redis_addr":     "",
			"redis_password": "",
			"redis_db":       0,
			"key_prefix":     "notekeeper:browser",
		},
		"alerts": map[string]interface{}{
			"telegram": map[string]interface{}{
				"bot_token": "",
				"chat_id":   "",
				"base_url":  "https://api.telegram.org",
			},
		},
		"console": map[string]interface{}{
			"server_url":     "http://localhost:8080",
			"owner_id":       "",
			"colored_output": true,
			"history_file":   "~/.notekeeper/console_history",
		},
	}
}

func NewDefaultProvider() *confmap.Confmap {
	return confmap.Provider(DefaultConfig(), ".")
}

func GetDefaultConfigPath() string {
	return "~/.notekeeper/config.yaml"
}
