package frame

import "testing"

func TestFilterDefaultAllowsAll(t *testing.T) {
	f := newNameFilter(nil, nil)
	if !f.allowed("anything") {
		t.Error("empty filter should allow every function")
	}
}

func TestFilterWhitelist(t *testing.T) {
	f := newNameFilter([]string{"main", "handle_*"}, nil)
	for _, name := range []string{"main", "handle_request", "handle_"} {
		if !f.allowed(name) {
			t.Errorf("%q should be allowed", name)
		}
	}
	for _, name := range []string{"main2", "helper", "handl"} {
		if f.allowed(name) {
			t.Errorf("%q should be rejected", name)
		}
	}
}

func TestFilterBlacklistWinsOverWhitelist(t *testing.T) {
	f := newNameFilter([]string{"sub_*"}, []string{"sub_401000"})
	if f.allowed("sub_401000") {
		t.Error("blacklist must override the whitelist")
	}
	if !f.allowed("sub_401080") {
		t.Error("other whitelisted functions stay allowed")
	}
}
