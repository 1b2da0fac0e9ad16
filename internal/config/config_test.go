package config

import "testing"

func validConfig() *Config {
	return &Config{
		Quality:        80,
		DropSameFrames: 0,
		Buffers:        4,
		Workers:        2,
		Encoder:        "cpu",
		Resolution:     "640x480",
		LogLevel:       "info",
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid config to pass, got %v", err)
	}
}

func TestValidateRejectsBadFakeResolution(t *testing.T) {
	c := validConfig()
	c.FakeResolution = "not-a-resolution"
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error for a malformed fake-resolution")
	}
}

func TestValidateAcceptsEmptyFakeResolution(t *testing.T) {
	c := validConfig()
	c.FakeResolution = ""
	if err := c.Validate(); err != nil {
		t.Fatalf("expected empty fake-resolution to be valid, got %v", err)
	}
}

func TestValidateAcceptsWellFormedFakeResolution(t *testing.T) {
	c := validConfig()
	c.FakeResolution = "1920x1080"
	if err := c.Validate(); err != nil {
		t.Fatalf("expected well-formed fake-resolution to pass, got %v", err)
	}
}

func TestValidateRejectsQualityOutOfRange(t *testing.T) {
	c := validConfig()
	c.Quality = 0
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error for quality out of range")
	}
}

func TestValidateRejectsBuffersBelowTwo(t *testing.T) {
	c := validConfig()
	c.Buffers = 1
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error for buffers < 2")
	}
}

func TestParseResolutionRoundTrip(t *testing.T) {
	w, h, err := ParseResolution("1280x720")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w != 1280 || h != 720 {
		t.Fatalf("expected 1280x720, got %dx%d", w, h)
	}

	if _, _, err := ParseResolution("garbage"); err == nil {
		t.Fatal("expected an error for a malformed resolution string")
	}
}

func TestParsePixelFormat(t *testing.T) {
	cases := map[string]bool{
		"yuyv": true, "UYVY": true, "rgb24": true, "bgr24": true,
		"grey": true, "gray": true, "": false, "nonsense": false,
	}
	for s, known := range cases {
		got := ParsePixelFormat(s)
		gotKnown := got.String() != "UNKNOWN"
		if gotKnown != known {
			t.Errorf("ParsePixelFormat(%q): expected known=%v, got %v (%v)", s, known, gotKnown, got)
		}
	}
}
