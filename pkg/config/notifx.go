package config

// NotifxConfig configures outbound email. There is only one provider
// wired in this service (pkg/notifx/notifxconsole), so this holds the
// From address/name that provider stamps onto every message, not a
// provider selector.
type NotifxConfig struct {
	FromAddress string
	FromName    string
}

func loadNotifxConfig() NotifxConfig {
	return NotifxConfig{
		FromAddress: getEnv("NOTIFX_FROM_ADDRESS", getEnv("EMAIL_FROM_ADDRESS", "noreply@authcore.local")),
		FromName:    getEnv("NOTIFX_FROM_NAME", getEnv("EMAIL_FROM_NAME", "authcore")),
	}
}
