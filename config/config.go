package config

import (
	"os"
	"regexp"

	"membership-svc/models"
)

// shortcodePattern matches Daraja paybill/till shortcodes (5-7 digits).
var shortcodePattern = regexp.MustCompile(`^\d{5,7}$`)

type Config struct {
	Port string
	Env  string

	// Daraja gateway settings
	MpesaBaseURL        string
	MpesaConsumerKey    string
	MpesaConsumerSecret string
	MpesaShortcode      string
	MpesaPasskey        string
	CallbackURL         string
}

func Load() *Config {
	return &Config{
		Port:                getEnv("PORT", "8085"),
		Env:                 getEnv("ENV", "development"),
		MpesaBaseURL:        getEnv("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke"),
		MpesaConsumerKey:    getEnv("MPESA_CONSUMER_KEY", ""),
		MpesaConsumerSecret: getEnv("MPESA_CONSUMER_SECRET", ""),
		MpesaShortcode:      getEnv("MPESA_SHORTCODE", ""),
		MpesaPasskey:        getEnv("MPESA_PASSKEY", ""),
		CallbackURL:         getEnv("MPESA_CALLBACK_URL", ""),
	}
}

// ValidateGateway checks the credentials needed for an STK push before any
// network call is made.
func (c *Config) ValidateGateway() *models.PaymentError {
	if c.MpesaConsumerKey == "" || c.MpesaConsumerSecret == "" || c.MpesaShortcode == "" || c.MpesaPasskey == "" {
		return models.NewPaymentError(models.ErrCodeMissingCredentials, "M-Pesa gateway credentials are not configured")
	}
	if !shortcodePattern.MatchString(c.MpesaShortcode) {
		return models.NewPaymentError(models.ErrCodeInvalidShortcode, "business shortcode must be 5-7 digits")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
