package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseUserAgent(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want DeviceInfo
	}{
		{
			name: "chrome on windows",
			ua:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			want: DeviceInfo{DeviceFamily: "desktop", BrowserFamily: "Chrome", OSFamily: "Windows"},
		},
		{
			name: "safari on iphone",
			ua:   "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
			want: DeviceInfo{DeviceFamily: "mobile", BrowserFamily: "Safari", OSFamily: "iOS"},
		},
		{
			name: "ipad",
			ua:   "Mozilla/5.0 (iPad; CPU OS 16_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.6 Mobile/15E148 Safari/604.1",
			want: DeviceInfo{DeviceFamily: "tablet", BrowserFamily: "Safari", OSFamily: "iOS"},
		},
		{
			name: "firefox on linux",
			ua:   "Mozilla/5.0 (X11; Linux x86_64; rv:126.0) Gecko/20100101 Firefox/126.0",
			want: DeviceInfo{DeviceFamily: "desktop", BrowserFamily: "Firefox", OSFamily: "Linux"},
		},
		{
			name: "edge on windows",
			ua:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0",
			want: DeviceInfo{DeviceFamily: "desktop", BrowserFamily: "Edge", OSFamily: "Windows"},
		},
		{
			name: "android chrome",
			ua:   "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Mobile Safari/537.36",
			want: DeviceInfo{DeviceFamily: "mobile", BrowserFamily: "Chrome", OSFamily: "Android"},
		},
		{
			name: "empty",
			ua:   "",
			want: DeviceInfo{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseUserAgent(tt.ua))
		})
	}
}
