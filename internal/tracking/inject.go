package tracking

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
)

// Inject adds head markup, body-open markup and body classes to an HTML
// document.
func Inject(r io.Reader, head, bodyOpen string, classes []string) ([]byte, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	if head != "" {
		doc.Find("head").First().AppendHtml(head)
	}
	body := doc.Find("body").First()
	if bodyOpen != "" {
		body.PrependHtml(bodyOpen)
	}
	if len(classes) > 0 {
		body.AddClass(classes...)
	}

	out, err := goquery.OuterHtml(doc.Selection)
	if err != nil {
		return nil, fmt.Errorf("failed to render html: %w", err)
	}
	return []byte(out), nil
}

// SettingsSource returns the tracking settings for a request.
type SettingsSource func(ctx context.Context) (Settings, error)

// StoreSource reads settings from an option store on every request.
func StoreSource(store OptionStore) SettingsSource {
	return func(ctx context.Context) (Settings, error) {
		return LoadSettings(ctx, store)
	}
}

type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

// Middleware injects the tracking markup into successful text/html
// responses. Other responses pass through unchanged.
func Middleware(source SettingsSource, live bool, log *logrus.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			buf := &bufferedResponse{header: w.Header()}
			next.ServeHTTP(buf, r)
			if buf.status == 0 {
				buf.status = http.StatusOK
			}

			body := buf.body.Bytes()
			if buf.status == http.StatusOK && isHTML(buf.header.Get("Content-Type")) {
				// The page depends on the settings as well as the file, so
				// the file's validators would let a stale snippet be revalidated.
				buf.header.Del("Last-Modified")
				buf.header.Del("ETag")
				if injected, err := render(r.Context(), source, live, body); err != nil {
					log.Warnf("Serving %s without tracking code: %v", r.URL.Path, err)
				} else {
					body = injected
				}
			}

			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			w.WriteHeader(buf.status)
			_, _ = w.Write(body)
		})
	}
}

func render(ctx context.Context, source SettingsSource, live bool, page []byte) ([]byte, error) {
	settings, err := source(ctx)
	if err != nil {
		return nil, err
	}
	head := RenderHead(settings, live)
	bodyOpen := RenderBodyOpen(settings, live)
	classes := BodyClasses(settings, live)
	if head == "" && bodyOpen == "" && len(classes) == 0 {
		return page, nil
	}
	return Inject(bytes.NewReader(page), head, bodyOpen, classes)
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "text/html"
}
