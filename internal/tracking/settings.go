// Package tracking renders the configured analytics snippets and injects
// them into served HTML pages.
package tracking

import (
	"context"
	"fmt"
)

// Option names as stored in the options table.
const (
	OptionSiteVerification = "google_site_verification"
	OptionGACode           = "ga_inject_code"
	OptionGA4MeasurementID = "ga4_measurement_id"
	OptionGTMCode          = "gtm_inject_code"
	OptionFBPixelCode      = "fb_pixel_code"
	OptionHubSpotCode      = "hbs_pixel_code"
	OptionHotjarID         = "hotjar_hjid"
	OptionSentryDSN        = "sentry_dsn"
	OptionCustomCode       = "custom_inject_code"
)

// Placeholder values shown in a fresh install. A placeholder means "not set".
const (
	PlaceholderGA      = "UA-XXXXX-X"
	PlaceholderGA4     = "G-XXXXXX"
	PlaceholderGTM     = "GTM-XXXX"
	PlaceholderFB      = "###############"
	PlaceholderHubSpot = "########"
)

// OptionNames lists every tracking option in settings form order.
var OptionNames = []string{
	OptionSiteVerification,
	OptionGACode,
	OptionGA4MeasurementID,
	OptionGTMCode,
	OptionFBPixelCode,
	OptionHubSpotCode,
	OptionHotjarID,
	OptionSentryDSN,
	OptionCustomCode,
}

// IsOption reports whether name is a tracking option.
func IsOption(name string) bool {
	for _, n := range OptionNames {
		if n == name {
			return true
		}
	}
	return false
}

// Defaults are written on first run for options that are missing or empty.
var Defaults = map[string]string{
	OptionGACode:           PlaceholderGA,
	OptionGA4MeasurementID: PlaceholderGA4,
	OptionGTMCode:          PlaceholderGTM,
	OptionFBPixelCode:      PlaceholderFB,
	OptionHubSpotCode:      PlaceholderHubSpot,
	OptionSentryDSN:        "",
	OptionSiteVerification: "",
	OptionHotjarID:         "",
}

// Settings are the tracking options.
type Settings struct {
	SiteVerification string `json:"google_site_verification"`
	GACode           string `json:"ga_inject_code"`
	GA4MeasurementID string `json:"ga4_measurement_id"`
	GTMCode          string `json:"gtm_inject_code"`
	FBPixelCode      string `json:"fb_pixel_code"`
	HubSpotCode      string `json:"hbs_pixel_code"`
	HotjarID         string `json:"hotjar_hjid"`
	SentryDSN        string `json:"sentry_dsn"`
	CustomCode       string `json:"custom_inject_code"`
}

// OptionStore reads and writes named options.
type OptionStore interface {
	GetOptions(ctx context.Context, names ...string) (map[string]string, error)
	UpdateOptions(ctx context.Context, values map[string]string) error
	EnsureOption(ctx context.Context, name, value string) (bool, error)
}

// SettingsFromOptions maps option values onto Settings.
func SettingsFromOptions(values map[string]string) Settings {
	return Settings{
		SiteVerification: values[OptionSiteVerification],
		GACode:           values[OptionGACode],
		GA4MeasurementID: values[OptionGA4MeasurementID],
		GTMCode:          values[OptionGTMCode],
		FBPixelCode:      values[OptionFBPixelCode],
		HubSpotCode:      values[OptionHubSpotCode],
		HotjarID:         values[OptionHotjarID],
		SentryDSN:        values[OptionSentryDSN],
		CustomCode:       values[OptionCustomCode],
	}
}

// Options returns the settings keyed by option name.
func (s Settings) Options() map[string]string {
	return map[string]string{
		OptionSiteVerification: s.SiteVerification,
		OptionGACode:           s.GACode,
		OptionGA4MeasurementID: s.GA4MeasurementID,
		OptionGTMCode:          s.GTMCode,
		OptionFBPixelCode:      s.FBPixelCode,
		OptionHubSpotCode:      s.HubSpotCode,
		OptionHotjarID:         s.HotjarID,
		OptionSentryDSN:        s.SentryDSN,
		OptionCustomCode:       s.CustomCode,
	}
}

// LoadSettings reads the current tracking options.
func LoadSettings(ctx context.Context, store OptionStore) (Settings, error) {
	values, err := store.GetOptions(ctx, OptionNames...)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to load tracking settings: %w", err)
	}
	return SettingsFromOptions(values), nil
}

// EnsureDefaults writes the placeholder values for missing options and
// returns the names it wrote.
func EnsureDefaults(ctx context.Context, store OptionStore) ([]string, error) {
	var written []string
	for _, name := range OptionNames {
		value, ok := Defaults[name]
		if !ok {
			continue
		}
		wrote, err := store.EnsureOption(ctx, name, value)
		if err != nil {
			return written, fmt.Errorf("failed to create default for %s: %w", name, err)
		}
		if wrote {
			written = append(written, name)
		}
	}
	return written, nil
}

// SaveSettings sanitizes and stores the supplied options. Unknown names are
// rejected; names not present in values are left unchanged.
func SaveSettings(ctx context.Context, store OptionStore, values map[string]string) (Settings, error) {
	clean := make(map[string]string, len(values))
	for name, value := range values {
		switch name {
		case OptionCustomCode:
			clean[name] = SanitizeCustomCode(value)
		case OptionSiteVerification, OptionGACode, OptionGA4MeasurementID, OptionGTMCode,
			OptionFBPixelCode, OptionHubSpotCode, OptionHotjarID, OptionSentryDSN:
			clean[name] = SanitizeText(value)
		default:
			return Settings{}, fmt.Errorf("unknown tracking option %q", name)
		}
	}
	if len(clean) > 0 {
		if err := store.UpdateOptions(ctx, clean); err != nil {
			return Settings{}, fmt.Errorf("failed to save tracking settings: %w", err)
		}
	}
	return LoadSettings(ctx, store)
}
