package updater

import (
	"errors"
	"net/url"
	"path"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/watson-creative/tracking-injector/internal/config"
	"github.com/watson-creative/tracking-injector/internal/plugins"
)

// Settings are the caller-supplied values of an update checker. Empty strings
// count as "not supplied"; SSLVerify is a pointer so an explicit false is kept.
type Settings struct {
	APIURL    string `mapstructure:"api_url" validate:"required"`
	RawURL    string `mapstructure:"raw_url" validate:"required"`
	GitHubURL string `mapstructure:"github_url" validate:"required"`
	ZipURL    string `mapstructure:"zip_url" validate:"required"`
	Requires  string `mapstructure:"requires" validate:"required"`
	Tested    string `mapstructure:"tested" validate:"required"`
	Readme    string `mapstructure:"readme" validate:"required"`

	MainFile         string `mapstructure:"main_file"`
	Slug             string `mapstructure:"slug"`
	ProperFolderName string `mapstructure:"proper_folder_name"`
	AccessToken      string `mapstructure:"access_token"`
	SSLVerify        *bool  `mapstructure:"sslverify"`

	NewVersion  string `mapstructure:"new_version"`
	LastUpdated string `mapstructure:"last_updated"`
	Description string `mapstructure:"description"`
	PluginName  string `mapstructure:"plugin_name"`
	Version     string `mapstructure:"version"`
	Author      string `mapstructure:"author"`
	Homepage    string `mapstructure:"homepage"`
}

// SettingsFromConfig maps the updater section of the application config.
func SettingsFromConfig(c config.UpdaterConfig) Settings {
	sslverify := c.SSLVerify
	return Settings{
		APIURL:      c.APIURL,
		RawURL:      c.RawURL,
		GitHubURL:   c.GitHubURL,
		ZipURL:      c.ZipURL,
		Requires:    c.Requires,
		Tested:      c.Tested,
		Readme:      c.Readme,
		MainFile:    c.MainFile,
		AccessToken: c.AccessToken,
		SSLVerify:   &sslverify,
	}
}

// UpdateConfig is the resolved configuration. It is not modified after
// Resolve returns; values that depend on the remote repository are computed
// on demand by the Checker.
type UpdateConfig struct {
	APIURL    string `json:"api_url"`
	RawURL    string `json:"raw_url"`
	GitHubURL string `json:"github_url"`
	ZipURL    string `json:"zip_url"`
	Requires  string `json:"requires"`
	Tested    string `json:"tested"`
	Readme    string `json:"readme"`

	Slug             string `json:"slug"`
	ProperFolderName string `json:"proper_folder_name"`
	AccessToken      string `json:"-"`
	SSLVerify        bool   `json:"sslverify"`

	NewVersion  string `json:"new_version,omitempty"`
	LastUpdated string `json:"last_updated,omitempty"`
	Description string `json:"description,omitempty"`
	PluginName  string `json:"plugin_name"`
	Version     string `json:"version"`
	Author      string `json:"author"`
	Homepage    string `json:"homepage"`

	versionSupplied bool
}

// MetadataSource looks up the header block of an installed plugin.
type MetadataSource interface {
	Metadata(slug string) (*plugins.Metadata, error)
}

// Basenamer turns a main file path into a slug.
type Basenamer interface {
	Basename(mainFile string) string
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Resolve validates s and fills defaults. Local metadata is looked up through
// meta for display fields the caller left empty; meta may be nil.
func Resolve(s Settings, names Basenamer, meta MetadataSource) (*UpdateConfig, error) {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, err
		}
		seen := make(map[string]bool, len(verrs))
		missing := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			if seen[fe.Field()] {
				continue
			}
			seen[fe.Field()] = true
			missing = append(missing, fe.Field())
		}
		return nil, &MissingFieldsError{Fields: missing}
	}

	cfg := &UpdateConfig{
		APIURL:      s.APIURL,
		RawURL:      s.RawURL,
		GitHubURL:   s.GitHubURL,
		Requires:    s.Requires,
		Tested:      s.Tested,
		Readme:      s.Readme,
		AccessToken: s.AccessToken,
		SSLVerify:   true,
		NewVersion:  s.NewVersion,
		LastUpdated: s.LastUpdated,
		Description: s.Description,
		PluginName:  s.PluginName,
		Version:     s.Version,
		Author:      s.Author,
		Homepage:    s.Homepage,

		versionSupplied: s.Version != "",
	}
	if s.SSLVerify != nil {
		cfg.SSLVerify = *s.SSLVerify
	}

	cfg.Slug = s.Slug
	if cfg.Slug == "" {
		if names != nil {
			cfg.Slug = names.Basename(s.MainFile)
		} else {
			cfg.Slug = path.Clean(s.MainFile)
		}
	}
	cfg.ProperFolderName = s.ProperFolderName
	if cfg.ProperFolderName == "" {
		cfg.ProperFolderName = path.Dir(cfg.Slug)
	}

	cfg.ZipURL = NormalizeZipURL(s.ZipURL, s.AccessToken)

	if meta != nil && (cfg.PluginName == "" || cfg.Version == "" || cfg.Author == "" || cfg.Homepage == "") {
		if m, err := meta.Metadata(cfg.Slug); err == nil {
			fillString(&cfg.PluginName, m.Name)
			fillString(&cfg.Version, m.Version)
			fillString(&cfg.Author, m.Author)
			fillString(&cfg.Homepage, m.PluginURI)
		}
	}

	return cfg, nil
}

func fillString(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

// NormalizeZipURL rewrites a repository archive URL. With a token the URL is
// pointed at the API host and the token is appended as a query parameter;
// without one, "/archive/refs/heads/" collapses to "/archive/".
func NormalizeZipURL(zipURL, accessToken string) string {
	if accessToken == "" {
		return strings.Replace(zipURL, "/archive/refs/heads/", "/archive/", 1)
	}

	u, err := url.Parse(zipURL)
	if err != nil || u.Scheme == "" {
		return zipURL
	}
	q := url.Values{}
	q.Set("access_token", accessToken)
	return u.Scheme + "://api.github.com/repos" + u.Path + "?" + q.Encode()
}
