package clientinfo

import (
	"github.com/mssola/useragent"
)

// Device kind labels stored on trusted device records.
const (
	DevicePC      = "PC"
	DeviceMobile  = "Mobile"
	DeviceBot     = "Bot"
	DeviceUnknown = "Unknown"
)

// Labels are the human-readable client attributes parsed from a User-Agent
// header. They are informational only and never used for security decisions.
type Labels struct {
	Browser string
	OS      string
	Device  string
}

// Parse extracts browser, OS and device kind from a raw User-Agent string.
// An empty or unparseable value yields "Unknown" labels rather than an error.
func Parse(rawUA string) Labels {
	if rawUA == "" {
		return Labels{
			Browser: DeviceUnknown,
			OS:      DeviceUnknown,
			Device:  DeviceUnknown,
		}
	}

	ua := useragent.New(rawUA)

	name, version := ua.Browser()
	browser := name
	if version != "" {
		browser = name + " " + version
	}
	if browser == "" {
		browser = DeviceUnknown
	}

	os := ua.OS()
	if os == "" {
		os = DeviceUnknown
	}

	device := DevicePC
	switch {
	case ua.Bot():
		device = DeviceBot
	case ua.Mobile():
		device = DeviceMobile
	}

	return Labels{
		Browser: browser,
		OS:      os,
		Device:  device,
	}
}
