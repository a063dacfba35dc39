package provider

import "strings"

// Platform is the client runtime the provider is used from.
type Platform int

const (
	PlatformDesktop Platform = iota
	PlatformMobileWeb
)

func (p Platform) String() string {
	if p == PlatformMobileWeb {
		return "mobile-web"
	}
	return "desktop"
}

var mobileMarkers = []string{"android", "iphone", "ipad", "ipod", "mobile", "opera mini", "iemobile"}

// DetectPlatform classifies a User-Agent header.
func DetectPlatform(userAgent string) Platform {
	ua := strings.ToLower(userAgent)
	for _, m := range mobileMarkers {
		if strings.Contains(ua, m) {
			return PlatformMobileWeb
		}
	}
	return PlatformDesktop
}
