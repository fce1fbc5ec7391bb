package fingerprint

import (
	"strings"
	"testing"

	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/internal/config"
)

func TestPlatformForUserAgent(t *testing.T) {
	cases := []struct {
		ua   string
		want string
	}{
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/126.0.0.0", "Win32"},
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) Safari/605.1.15", "MacIntel"},
		{"Mozilla/5.0 (Linux; Android 14; Pixel 8) Chrome/126.0.0.0", "Linux armv7l"},
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X)", "iPhone"},
		{"Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Firefox/128.0", "Linux x86_64"},
		{"SomethingElse/1.0", "Win32"},
	}
	for _, tc := range cases {
		if got := platformForUserAgent(tc.ua); got != tc.want {
			t.Errorf("platformForUserAgent(%q) = %q, want %q", tc.ua, got, tc.want)
		}
	}
}

func TestGenerateInvariants(t *testing.T) {
	gen := NewGenerator(config.FingerprintConfig{Region: "BR"})
	for i := 0; i < 50; i++ {
		p := gen.Generate()
		if p.ViewportWidth > p.ScreenWidth || p.ViewportHeight > p.ScreenHeight {
			t.Fatalf("viewport %dx%d exceeds screen %dx%d",
				p.ViewportWidth, p.ViewportHeight, p.ScreenWidth, p.ScreenHeight)
		}
		if p.ColorDepth != 24 {
			t.Fatalf("color depth = %d", p.ColorDepth)
		}
		if !strings.HasPrefix(p.Timezone, "America/") {
			t.Fatalf("BR region produced timezone %q", p.Timezone)
		}
		if p.Language != "pt" || p.Locale != "pt-BR" {
			t.Fatalf("BR region produced locale %s/%s", p.Locale, p.Language)
		}
		if strings.Contains(p.UserAgent, "Chrome") && p.DeviceMemory == 0 {
			t.Fatal("Chrome profiles must report deviceMemory")
		}
		if !strings.Contains(p.UserAgent, "Chrome") && p.DeviceMemory != 0 {
			t.Fatal("non-Chrome profiles must not report deviceMemory")
		}
		if p.Platform != platformForUserAgent(p.UserAgent) {
			t.Fatalf("platform %q does not match user agent %q", p.Platform, p.UserAgent)
		}
	}
}

func TestUnknownRegionFallsBackToUS(t *testing.T) {
	gen := NewGenerator(config.FingerprintConfig{Region: "atlantis"})
	p := gen.Generate()
	if p.Language != "en" {
		t.Fatalf("fallback region language = %q, want en", p.Language)
	}
}

func TestHeadersFollowProfile(t *testing.T) {
	chrome := Profile{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36",
		Locale:    "pt-BR",
		Language:  "pt",
		Platform:  "Win32",
	}
	headers := chrome.Headers()
	if got := headers["Accept-Language"]; got != "pt-BR,pt;q=0.9" {
		t.Errorf("Accept-Language = %q", got)
	}
	if got := headers["sec-ch-ua"]; !strings.Contains(got, `v="127"`) {
		t.Errorf("sec-ch-ua missing Chrome version: %q", got)
	}
	if got := headers["sec-ch-ua-platform"]; got != `"Windows"` {
		t.Errorf("sec-ch-ua-platform = %q", got)
	}

	firefox := Profile{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:128.0) Gecko/20100101 Firefox/128.0",
		Locale:    "en-US",
		Language:  "en",
		Platform:  "Win32",
	}
	if _, ok := firefox.Headers()["sec-ch-ua"]; ok {
		t.Error("Firefox profiles must not send client hints")
	}
}

func TestInitScriptReflectsProfile(t *testing.T) {
	p := Profile{
		UserAgent:           "Mozilla/5.0 Chrome/126.0.0.0",
		Platform:            "MacIntel",
		HardwareConcurrency: 8,
		DeviceMemory:        16,
		Locale:              "en-US",
		Language:            "en",
	}
	script := p.InitScript()
	for _, want := range []string{"webdriver", `"MacIntel"`, "=> 8", "=> 16"} {
		if !strings.Contains(script, want) {
			t.Errorf("init script missing %q:\n%s", want, script)
		}
	}
}
