package tracking

import (
	"encoding/json"
	"html"
	"io"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/dop251/goja"
	xhtml "golang.org/x/net/html"
)

// allowedScriptAttrs is the attribute allow-list of the custom code field.
var allowedScriptAttrs = map[string]bool{
	"type":  true,
	"src":   true,
	"async": true,
}

// SanitizeText strips markup and collapses whitespace, the way single-line
// settings fields are cleaned.
func SanitizeText(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	var b strings.Builder
	z := xhtml.NewTokenizer(strings.NewReader(s))
	for {
		tt := z.Next()
		if tt == xhtml.ErrorToken {
			break
		}
		if tt == xhtml.TextToken {
			b.Write(z.Text())
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// SanitizeCustomCode keeps only <script> elements with type, src and async
// attributes. Inline JavaScript must compile and inline JSON-LD must be valid
// JSON, otherwise the element is dropped. Other markup is removed; text
// outside tags is kept escaped.
func SanitizeCustomCode(s string) string {
	var out strings.Builder
	z := xhtml.NewTokenizer(strings.NewReader(s))

	var (
		inScript   bool
		scriptOpen string
		scriptType string
		scriptBody strings.Builder
	)

	for {
		tt := z.Next()
		switch tt {
		case xhtml.ErrorToken:
			if z.Err() != io.EOF {
				return strings.TrimSpace(out.String())
			}
			if inScript && validScriptBody(scriptType, scriptBody.String()) {
				// Unterminated script: close it rather than drop the content.
				out.WriteString(scriptOpen)
				out.WriteString(scriptBody.String())
				out.WriteString("</script>")
			}
			return strings.TrimSpace(out.String())

		case xhtml.StartTagToken, xhtml.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data != "script" || inScript {
				continue
			}
			scriptOpen, scriptType = renderScriptTag(tok)
			if tt == xhtml.SelfClosingTagToken {
				out.WriteString(scriptOpen)
				out.WriteString("</script>")
				continue
			}
			inScript = true
			scriptBody.Reset()

		case xhtml.EndTagToken:
			tok := z.Token()
			if tok.Data != "script" || !inScript {
				continue
			}
			inScript = false
			if validScriptBody(scriptType, scriptBody.String()) {
				out.WriteString(scriptOpen)
				out.WriteString(scriptBody.String())
				out.WriteString("</script>")
			}

		case xhtml.TextToken:
			if inScript {
				scriptBody.Write(z.Raw())
				continue
			}
			out.WriteString(html.EscapeString(string(z.Text())))
		}
	}
}

func renderScriptTag(tok xhtml.Token) (string, string) {
	var b strings.Builder
	var scriptType string
	b.WriteString("<script")
	for _, attr := range tok.Attr {
		key := strings.ToLower(attr.Key)
		if !allowedScriptAttrs[key] {
			continue
		}
		switch key {
		case "async":
			b.WriteString(" async")
			continue
		case "src":
			if !allowedSource(attr.Val) {
				continue
			}
		case "type":
			scriptType = strings.ToLower(strings.TrimSpace(attr.Val))
		}
		b.WriteString(" " + key + `="` + html.EscapeString(attr.Val) + `"`)
	}
	b.WriteString(">")
	return b.String(), scriptType
}

func allowedSource(src string) bool {
	u, err := url.Parse(strings.TrimSpace(src))
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "", "http", "https":
		return true
	default:
		return false
	}
}

func validScriptBody(scriptType, body string) bool {
	if strings.TrimSpace(body) == "" {
		return true
	}
	switch scriptType {
	case "", "text/javascript", "application/javascript":
		_, err := goja.Compile("custom_inject_code", body, false)
		return err == nil
	case "application/ld+json", "application/json":
		return json.Valid([]byte(body))
	default:
		return true
	}
}
