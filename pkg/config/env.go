package config

import (
	"os"
	"strconv"
	"time"
)

// applyEnvOverrides copies recognized environment variables over the loaded
// configuration. Seconds-based variables keep the names the deployment docs
// use (OKTANT_API_STEP_TIMEOUT_SECONDS etc.); OKTA_* variables keep their
// conventional names.
func applyEnvOverrides(cfg *Config) {
	setDurationSeconds(&cfg.Engine.APIStepTimeout, "OKTANT_API_STEP_TIMEOUT_SECONDS")
	setDurationSeconds(&cfg.Engine.SQLStepTimeout, "OKTANT_SQL_STEP_TIMEOUT_SECONDS")
	setDurationSeconds(&cfg.Engine.ScriptTimeout, "OKTANT_SCRIPT_TIMEOUT_SECONDS")
	setDurationSeconds(&cfg.Engine.ProcessGrace, "OKTANT_PROCESS_GRACE_SECONDS")
	setInt(&cfg.Engine.OktaConcurrentLimit, "OKTA_CONCURRENT_LIMIT")
	setInt(&cfg.Engine.BatchSize, "OKTANT_BATCH_SIZE")
	setInt(&cfg.Engine.BatchThreshold, "OKTANT_BATCH_THRESHOLD")
	setInt(&cfg.Engine.EventBusCapacity, "OKTANT_EVENT_BUS_CAPACITY")
	setInt(&cfg.Engine.OwnerQuota, "OKTANT_OWNER_QUOTA")
	setString(&cfg.Engine.ScratchDir, "OKTANT_SCRATCH_DIR")

	setString(&cfg.Okta.OrgURL, "OKTA_ORG_URL")
	setString(&cfg.Okta.APIToken, "OKTA_API_TOKEN")

	setInt(&cfg.Server.Port, "PORT")

	setString(&cfg.Slack.BotToken, "SLACK_BOT_TOKEN")
	setString(&cfg.Slack.ChannelID, "SLACK_CHANNEL_ID")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDurationSeconds(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Second
		}
	}
}
