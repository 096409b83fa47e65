package session

import "net/url"

// ShouldAutoOpen reports whether a product link asks to open the try-on
// immediately (the "?ar=true" parameter of shared links and QR codes).
func ShouldAutoOpen(q url.Values) bool {
	return q.Get("ar") == "true"
}
