package picker

import "net/http"

// DefaultUserAgent is a browser-like identity; some hosts refuse bot-looking clients.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120 Safari/537.36 RandomImageBot/1.6"

const (
	pageAccept     = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	imageAccept    = "image/avif,image/webp,image/*,*/*;q=0.8"
	acceptLanguage = "en-US,en;q=0.8"
)

// PageHeaders are sent with the source page GET.
func PageHeaders(userAgent string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", orDefaultUA(userAgent))
	h.Set("Accept", pageAccept)
	h.Set("Accept-Language", acceptLanguage)
	return h
}

// ImageHeaders are sent with HEAD probes and image GETs. Referer is the page
// the candidate came from.
func ImageHeaders(userAgent, referer string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", orDefaultUA(userAgent))
	h.Set("Accept", imageAccept)
	h.Set("Accept-Language", acceptLanguage)
	if referer != "" {
		h.Set("Referer", referer)
	}
	return h
}

func orDefaultUA(ua string) string {
	if ua == "" {
		return DefaultUserAgent
	}
	return ua
}
