package tracking

import (
	"html"
	"strings"
	"text/template"
)

// GTMBodyClass marks pages that carry the Tag Manager noscript fallback.
const GTMBodyClass = "wc-gtm-noscript"

const sentryBundle = `<script
  src="https://browser.sentry-cdn.com/7.17.1/bundle.min.js"
  integrity="sha384-vNdCKj9jIX+c41215wXDL6Xap/hZNJ8oyy/om470NxVJHff8VAQck1xu53ZYZ7wI"
  crossorigin="anonymous"
  ></script>`

func configured(value, placeholder string) bool {
	value = strings.TrimSpace(value)
	return value != "" && value != placeholder
}

func js(s string) string {
	return template.JSEscapeString(strings.TrimSpace(s))
}

// RenderHead returns the markup printed into <head>. Everything except
// Sentry is limited to the live environment.
func RenderHead(s Settings, live bool) string {
	var b strings.Builder

	if live {
		if v := strings.TrimSpace(s.SiteVerification); v != "" {
			b.WriteString("\n<!-- Google Site Verification -->\n")
			b.WriteString(`<meta name="google-site-verification" content="` + html.EscapeString(v) + `" />`)
			b.WriteString("\n<!-- End Google Site Verification -->\n")
		}

		if configured(s.GACode, PlaceholderGA) {
			ga := js(s.GACode)
			b.WriteString(`<script async src="https://www.googletagmanager.com/gtag/js?id=` + html.EscapeString(strings.TrimSpace(s.GACode)) + `"></script>`)
			b.WriteString("\n<script>window.dataLayer = window.dataLayer || [];\n")
			b.WriteString("function gtag(){dataLayer.push(arguments);}\n")
			b.WriteString(`gtag("js", new Date());`)
			b.WriteString(`gtag("config", "` + ga + `");`)
			if configured(s.GA4MeasurementID, PlaceholderGA4) {
				b.WriteString(`gtag("config", "` + js(s.GA4MeasurementID) + `");`)
			}
			b.WriteString("</script>")
		}

		if configured(s.GTMCode, PlaceholderGTM) {
			b.WriteString("<!-- Google Tag Manager -->\n")
			b.WriteString("<script>(function(w,d,s,l,i){w[l]=w[l]||[];w[l].push({'gtm.start':\n")
			b.WriteString("new Date().getTime(),event:'gtm.js'});var f=d.getElementsByTagName(s)[0],\n")
			b.WriteString("j=d.createElement(s),dl=l!='dataLayer'?'&l='+l:'';j.async=true;j.src=\n")
			b.WriteString("'https://www.googletagmanager.com/gtm.js?id='+i+dl;f.parentNode.insertBefore(j,f);\n")
			b.WriteString("})(window,document,'script','dataLayer','" + js(s.GTMCode) + "');</script>\n")
			b.WriteString("<!-- End Google Tag Manager -->")
		}

		if configured(s.FBPixelCode, PlaceholderFB) {
			pixel := js(s.FBPixelCode)
			b.WriteString("<!-- Facebook Pixel Code -->\n<script>\n")
			b.WriteString("!function(f,b,e,v,n,t,s)\n")
			b.WriteString("{if(f.fbq)return;n=f.fbq=function(){n.callMethod?\n")
			b.WriteString("n.callMethod.apply(n,arguments):n.queue.push(arguments)};\n")
			b.WriteString("if(!f._fbq)f._fbq=n;n.push=n;n.loaded=!0;n.version='2.0';\n")
			b.WriteString("n.queue=[];t=b.createElement(e);t.async=!0;\n")
			b.WriteString("t.src=v;s=b.getElementsByTagName(e)[0];\n")
			b.WriteString("s.parentNode.insertBefore(t,s)}(window, document,'script',\n")
			b.WriteString("'https://connect.facebook.net/en_US/fbevents.js');\n")
			b.WriteString("fbq('init', '" + pixel + "');\n")
			b.WriteString("fbq('track', 'PageView');\n</script>\n")
			b.WriteString(`<noscript><img height="1" width="1" style="display:none" src="https://www.facebook.com/tr?id=` +
				html.EscapeString(strings.TrimSpace(s.FBPixelCode)) + `&amp;ev=PageView&amp;noscript=1" /></noscript>`)
			b.WriteString("\n<!-- End Facebook Pixel Code -->")
		}

		if configured(s.HubSpotCode, PlaceholderHubSpot) {
			b.WriteString("\n<!-- Start of HubSpot Embed Code -->\n")
			b.WriteString(`<script type="text/javascript" id="hs-script-loader" async defer src="//js.hs-scripts.com/` +
				html.EscapeString(strings.TrimSpace(s.HubSpotCode)) + `.js"></script>`)
			b.WriteString("\n<!-- End of HubSpot Embed Code -->\n")
		}

		if v := strings.TrimSpace(s.HotjarID); v != "" {
			b.WriteString("\n<!-- Hotjar Tracking Code -->\n<script>\n")
			b.WriteString("(function(h,o,t,j,a,r){\n")
			b.WriteString("h.hj=h.hj||function(){(h.hj.q=h.hj.q||[]).push(arguments)};\n")
			b.WriteString("h._hjSettings={hjid:'" + js(v) + "',hjsv:6};\n")
			b.WriteString("a=o.getElementsByTagName(\"head\")[0];\n")
			b.WriteString("r=o.createElement(\"script\");r.async=1;\n")
			b.WriteString("r.src=t+h._hjSettings.hjid+j+h._hjSettings.hjsv;\n")
			b.WriteString("a.appendChild(r);\n")
			b.WriteString("})(window,document,\"https://static.hotjar.com/c/hotjar-\",\".js?sv=\");\n</script>")
			b.WriteString("\n<!-- End Hotjar Tracking Code -->\n")
		}

		if v := strings.TrimSpace(s.CustomCode); v != "" {
			b.WriteString("\n<!-- Custom Code -->\n")
			b.WriteString(v)
			b.WriteString("\n<!-- End Custom Code -->\n")
		}
	}

	if dsn := strings.TrimSpace(s.SentryDSN); dsn != "" {
		b.WriteString("\n<!-- Sentry.IO -->\n")
		b.WriteString(sentryBundle)
		b.WriteString("\n<script>\nSentry.init({\n")
		b.WriteString(`dsn: "` + js(dsn) + "\",\n")
		b.WriteString("environment: window.location.host\n});\n</script>")
		b.WriteString("\n<!-- End Sentry.IO -->\n")
	}

	return b.String()
}

// RenderBodyOpen returns the markup placed first inside <body>.
func RenderBodyOpen(s Settings, live bool) string {
	if !live || !configured(s.GTMCode, PlaceholderGTM) {
		return ""
	}
	id := html.EscapeString(strings.TrimSpace(s.GTMCode))
	return "<!-- Google Tag Manager (noscript) -->\n" +
		`<noscript><iframe src="https://www.googletagmanager.com/ns.html?id=` + id +
		`" height="0" width="0" style="display:none;visibility:hidden"></iframe></noscript>` +
		"\n<!-- End Google Tag Manager (noscript) -->"
}

// BodyClasses returns the classes added to <body>.
func BodyClasses(s Settings, live bool) []string {
	if !live || !configured(s.GTMCode, PlaceholderGTM) {
		return nil
	}
	return []string{GTMBodyClass}
}
