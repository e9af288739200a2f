package api

// DefaultRateLimitMarker is the substring the reference server embeds in the
// error message of a per-minute rate rejection. The wording is the upstream
// server's own; deployments with a different backend set their own marker in
// the Profile.
const DefaultRateLimitMarker = "每分钟最多访问"

// Profile describes one backend deployment of the data service: where it
// lives and which defaults apply to it. Alternate backends are expressed as
// profiles passed into the same client type rather than as client subtypes.
type Profile struct {
	// Name identifies the profile in logs and store keys.
	Name string

	// BaseURL is the single URL all endpoint calls are POSTed to.
	BaseURL string

	// DisableRateLimit turns off rate probing and admission control for
	// backends that do not enforce a per-minute budget.
	DisableRateLimit bool

	// RateLimitMarker is the substring identifying a rate-limit rejection
	// in server error messages. Empty means DefaultRateLimitMarker.
	RateLimitMarker string

	// RequiredParams holds per-endpoint fixed parameters an endpoint needs
	// to answer a probe meaningfully (e.g. an index code).
	RequiredParams map[string]map[string]any
}

// NewProfile returns a profile with the stock rate-limit marker.
func NewProfile(name, baseURL string) Profile {
	return Profile{
		Name:            name,
		BaseURL:         baseURL,
		RateLimitMarker: DefaultRateLimitMarker,
	}
}

// BulkProfile returns a profile for backends that serve bulk exports without
// a per-minute budget. Only the per-request cap is probed and admission
// control stays off.
func BulkProfile(name, baseURL string) Profile {
	p := NewProfile(name, baseURL)
	p.DisableRateLimit = true
	return p
}

// Marker returns the effective rate-limit marker for the profile.
func (p Profile) Marker() string {
	if p.RateLimitMarker == "" {
		return DefaultRateLimitMarker
	}
	return p.RateLimitMarker
}
