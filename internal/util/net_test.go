package util

import "testing"

func TestIsLoopbackAddress(t *testing.T) {
	loopback := []string{"127.0.0.1", "127.0.0.2", "127.255.255.255", "::1", "localhost", "LOCALHOST", "LocalHost"}
	for _, h := range loopback {
		if !IsLoopbackAddress(h) {
			t.Errorf("%q should be loopback", h)
		}
	}
	other := []string{"0.0.0.0", "192.168.1.1", "10.0.0.1", "example.com", "::", "::2", ""}
	for _, h := range other {
		if IsLoopbackAddress(h) {
			t.Errorf("%q should not be loopback", h)
		}
	}
}

func TestIsWildcardAddress(t *testing.T) {
	if !IsWildcardAddress("0.0.0.0") || !IsWildcardAddress("::") {
		t.Error("unspecified addresses should be wildcard")
	}
	for _, h := range []string{"127.0.0.1", "::1", "localhost", "example.com"} {
		if IsWildcardAddress(h) {
			t.Errorf("%q should not be wildcard", h)
		}
	}
}

func TestHostPort(t *testing.T) {
	cases := map[string]string{
		HostPort("127.0.0.1", 8080):  "127.0.0.1:8080",
		HostPort("example.com", 443): "example.com:443",
		HostPort("::1", 22):          "[::1]:22",
		HostPort("2001:db8::1", 80):  "[2001:db8::1]:80",
	}
	for got, want := range cases {
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
}

func TestValidatePort(t *testing.T) {
	for _, p := range []int{1, 22, 65535} {
		if err := ValidatePort(p); err != nil {
			t.Errorf("port %d should be valid: %v", p, err)
		}
	}
	for _, p := range []int{0, -1, 65536} {
		if err := ValidatePort(p); err == nil {
			t.Errorf("port %d should be invalid", p)
		}
	}
}
