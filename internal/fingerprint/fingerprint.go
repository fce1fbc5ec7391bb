package fingerprint

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/internal/config"
)

// Profile describes one coherent browser identity: user agent, window
// geometry, locale and the navigator properties a page can observe.
type Profile struct {
	UserAgent           string
	ViewportWidth       int
	ViewportHeight      int
	ScreenWidth         int
	ScreenHeight        int
	ColorDepth          int
	Timezone            string
	Locale              string
	Language            string
	Platform            string
	HardwareConcurrency int
	DeviceMemory        int // 0 on non-Chrome profiles
	WebGLVendor         string
	WebGLRenderer       string
}

// IsChrome reports whether the profile presents a Chrome user agent.
func (p Profile) IsChrome() bool {
	return strings.Contains(p.UserAgent, "Chrome") && !strings.Contains(p.UserAgent, "Edg/")
}

var screenResolutions = [][2]int{
	{1920, 1080}, {1366, 768}, {1536, 864}, {1440, 900}, {1280, 720},
	{1600, 900}, {2560, 1440}, {1680, 1050}, {1280, 800}, {1920, 1200},
}

var viewportSizes = [][2]int{
	{1920, 937}, {1366, 625}, {1536, 721}, {1440, 757},
	{1280, 577}, {1600, 757}, {1280, 657},
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:128.0) Gecko/20100101 Firefox/128.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36 Edg/126.0.0.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36 Edg/127.0.0.0",
}

var timezonesByRegion = map[string][]string{
	"US": {"America/New_York", "America/Chicago", "America/Denver", "America/Los_Angeles", "America/Phoenix"},
	"EU": {"Europe/London", "Europe/Paris", "Europe/Berlin", "Europe/Madrid", "Europe/Rome"},
	"BR": {"America/Sao_Paulo", "America/Fortaleza", "America/Manaus"},
	"AS": {"Asia/Tokyo", "Asia/Shanghai", "Asia/Singapore", "Asia/Seoul"},
}

var languageByRegion = map[string]string{
	"US": "en",
	"EU": "en",
	"BR": "pt",
	"AS": "en",
}

var localesByLanguage = map[string][]string{
	"en": {"en-US", "en-GB"},
	"pt": {"pt-BR"},
	"es": {"es-ES", "es-MX"},
}

var hardwareConcurrencyChoices = []int{2, 4, 6, 8, 12, 16}

var deviceMemoryChoices = []int{2, 4, 8, 16, 32}

var webglPairs = [][2]string{
	{"Google Inc. (Intel)", "ANGLE (Intel, Intel(R) UHD Graphics 620 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (Intel)", "ANGLE (Intel, Intel(R) Iris(R) Xe Graphics Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce GTX 1660 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce RTX 3060 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (AMD)", "ANGLE (AMD, AMD Radeon RX 6600 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
}

// Generator produces randomized but internally consistent profiles for a
// configured locale region.
type Generator struct {
	region string
}

// NewGenerator constructs a generator; unknown regions fall back to US.
func NewGenerator(cfg config.FingerprintConfig) *Generator {
	region := strings.ToUpper(strings.TrimSpace(cfg.Region))
	if _, ok := timezonesByRegion[region]; !ok {
		region = "US"
	}
	return &Generator{region: region}
}

// Generate returns a fresh profile.
func (g *Generator) Generate() Profile {
	ua := userAgents[rand.Intn(len(userAgents))]
	screen := screenResolutions[rand.Intn(len(screenResolutions))]
	viewport := viewportSizes[rand.Intn(len(viewportSizes))]

	language := languageByRegion[g.region]
	locales := localesByLanguage[language]
	locale := locales[rand.Intn(len(locales))]
	timezones := timezonesByRegion[g.region]
	webgl := webglPairs[rand.Intn(len(webglPairs))]

	profile := Profile{
		UserAgent:           ua,
		ScreenWidth:         screen[0],
		ScreenHeight:        screen[1],
		ViewportWidth:       min(viewport[0], screen[0]),
		ViewportHeight:      min(viewport[1], screen[1]),
		ColorDepth:          24,
		Timezone:            timezones[rand.Intn(len(timezones))],
		Locale:              locale,
		Language:            language,
		Platform:            platformForUserAgent(ua),
		HardwareConcurrency: hardwareConcurrencyChoices[rand.Intn(len(hardwareConcurrencyChoices))],
		WebGLVendor:         webgl[0],
		WebGLRenderer:       webgl[1],
	}
	if strings.Contains(ua, "Chrome") {
		profile.DeviceMemory = deviceMemoryChoices[rand.Intn(len(deviceMemoryChoices))]
	}
	return profile
}

// platformForUserAgent maps a user agent onto the navigator.platform value a
// real browser on that OS would report. Android has to be checked before
// linux since Android agents contain both tokens.
func platformForUserAgent(ua string) string {
	lower := strings.ToLower(ua)
	switch {
	case strings.Contains(lower, "windows"):
		return "Win32"
	case strings.Contains(lower, "mac"):
		return "MacIntel"
	case strings.Contains(lower, "android"):
		return "Linux armv7l"
	case strings.Contains(lower, "iphone"), strings.Contains(lower, "ipad"):
		return "iPhone"
	case strings.Contains(lower, "linux"):
		return "Linux x86_64"
	default:
		return "Win32"
	}
}

// Headers returns the request headers matching the profile. Chromium agents
// additionally carry their client-hint trio.
func (p Profile) Headers() map[string]string {
	headers := map[string]string{
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Accept-Language":           fmt.Sprintf("%s,%s;q=0.9", p.Locale, p.Language),
		"Accept-Encoding":           "gzip, deflate, br",
		"Upgrade-Insecure-Requests": "1",
		"Sec-Fetch-Dest":            "document",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-Site":            "none",
		"Sec-Fetch-User":            "?1",
	}
	if version := chromeMajorVersion(p.UserAgent); version != "" {
		headers["sec-ch-ua"] = fmt.Sprintf(`"Chromium";v="%s", "Google Chrome";v="%s", "Not-A.Brand";v="99"`, version, version)
		headers["sec-ch-ua-mobile"] = "?0"
		headers["sec-ch-ua-platform"] = fmt.Sprintf("%q", clientHintPlatform(p.Platform))
	}
	return headers
}

func chromeMajorVersion(ua string) string {
	idx := strings.Index(ua, "Chrome/")
	if idx < 0 {
		return ""
	}
	rest := ua[idx+len("Chrome/"):]
	if dot := strings.Index(rest, "."); dot > 0 {
		return rest[:dot]
	}
	return ""
}

func clientHintPlatform(platform string) string {
	switch platform {
	case "Win32":
		return "Windows"
	case "MacIntel":
		return "macOS"
	default:
		return "Linux"
	}
}

// InitScript returns JavaScript evaluated on every new document so the
// navigator object matches the profile.
func (p Profile) InitScript() string {
	var b strings.Builder
	b.WriteString("Object.defineProperty(navigator, 'webdriver', {get: () => undefined});\n")
	fmt.Fprintf(&b, "Object.defineProperty(navigator, 'platform', {get: () => %q});\n", p.Platform)
	fmt.Fprintf(&b, "Object.defineProperty(navigator, 'hardwareConcurrency', {get: () => %d});\n", p.HardwareConcurrency)
	fmt.Fprintf(&b, "Object.defineProperty(navigator, 'languages', {get: () => [%q, %q]});\n", p.Locale, p.Language)
	if p.DeviceMemory > 0 {
		fmt.Fprintf(&b, "Object.defineProperty(navigator, 'deviceMemory', {get: () => %d});\n", p.DeviceMemory)
	}
	return b.String()
}
