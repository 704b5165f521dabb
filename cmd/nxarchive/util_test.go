package main

import "testing"

func TestContentIDFromPath(t *testing.T) {
	cases := []struct {
		path    string
		wantErr bool
	}{
		{"/dumps/0123456789abcdef0123456789abcdef.nca", false},
		{"0123456789ABCDEF0123456789ABCDEF.cnmt.nca", false},
		{"not-hex.nca", true},
		{"0123.nca", true},
	}

	for _, c := range cases {
		id, err := contentIDFromPath(c.path)
		if c.wantErr {
			if err == nil {
				t.Errorf("contentIDFromPath(%q): expected error, got %x", c.path, id)
			}
			continue
		}
		if err != nil {
			t.Errorf("contentIDFromPath(%q): %v", c.path, err)
		}
	}
}
