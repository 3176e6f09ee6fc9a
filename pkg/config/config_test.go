package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stackmend.yml")
	body := []byte("safe: true\nwhitelist:\n  - main\n  - handle_*\nblacklist:\n  - __libc_csu_init\noutput: patched.bin\n")
	if err := os.WriteFile(path, body, 0644); err != nil {
		t.Fatal(err)
	}

	c, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if !c.Safe {
		t.Error("safe not set")
	}
	if want := []string{"main", "handle_*"}; !reflect.DeepEqual(c.Whitelist, want) {
		t.Errorf("whitelist = %v, want %v", c.Whitelist, want)
	}
	if want := []string{"__libc_csu_init"}; !reflect.DeepEqual(c.Blacklist, want) {
		t.Errorf("blacklist = %v, want %v", c.Blacklist, want)
	}
	if c.Output != "patched.bin" {
		t.Errorf("output = %q", c.Output)
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Fatal("explicit missing file should be an error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yml")
	in := &Config{Safe: true, Blacklist: []string{"start"}, Output: "a.out"}
	if err := SaveConfig(path, in); err != nil {
		t.Fatal(err)
	}
	out, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("round trip: %+v != %+v", in, out)
	}
}
