package route

import "testing"

func TestClassifier_Classify(t *testing.T) {
	c := NewClassifier("frankyagent.xyz", "localhost")

	tests := []struct {
		host    string
		wantSub string
		wantOK  bool
	}{
		// Root domain and www pass through.
		{"frankyagent.xyz", "", false},
		{"www.frankyagent.xyz", "", false},
		{"FrankyAgent.XYZ", "", false},
		{"frankyagent.xyz:443", "", false},
		{"www.frankyagent.xyz:8443", "", false},

		// Production subdomains.
		{"alice.frankyagent.xyz", "alice", true},
		{"Alice.FrankyAgent.xyz", "alice", true},
		{"ALICE.frankyagent.xyz", "alice", true},
		{"ALICE.LOCALHOST:3000", "alice", true},
		{"alice.frankyagent.xyz:443", "alice", true},
		{"a.b.frankyagent.xyz", "a.b", true},
		{"alice.frankyagent.xyz.", "alice", true},

		// Local development.
		{"alice.localhost", "alice", true},
		{"alice.localhost:3000", "alice", true},
		{"localhost", "", false},
		{"localhost:3000", "", false},

		// Preview and other hosts: first label.
		{"alice.my-app-git-main.vercel.app", "alice", true},
		{"alice.example.com", "alice", true},
		{"intranet", "", false},

		// IP literals never carry a subdomain.
		{"127.0.0.1", "", false},
		{"127.0.0.1:8000", "", false},
		{"[::1]:8000", "", false},

		// Degenerate hosts.
		{"", "", false},
		{".frankyagent.xyz", "", false},
		{".example.com", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			sub, ok := c.Classify(tt.host)
			if ok != tt.wantOK || sub != tt.wantSub {
				t.Errorf("Classify(%q) = (%q, %v), want (%q, %v)", tt.host, sub, ok, tt.wantSub, tt.wantOK)
			}
		})
	}
}

func TestClassifier_CustomRoot(t *testing.T) {
	c := NewClassifier("example.org", "test")

	if sub, ok := c.Classify("bob.example.org"); !ok || sub != "bob" {
		t.Errorf("Classify(bob.example.org) = (%q, %v), want (bob, true)", sub, ok)
	}
	if _, ok := c.Classify("www.example.org"); ok {
		t.Error("Classify(www.example.org) should pass through")
	}
	if sub, ok := c.Classify("bob.test:8080"); !ok || sub != "bob" {
		t.Errorf("Classify(bob.test:8080) = (%q, %v), want (bob, true)", sub, ok)
	}
	// The default production domain is just another host here.
	if sub, ok := c.Classify("frankyagent.xyz"); !ok || sub != "frankyagent" {
		t.Errorf("Classify(frankyagent.xyz) = (%q, %v), want (frankyagent, true)", sub, ok)
	}
	if c.Root() != "example.org" {
		t.Errorf("Root() = %q, want %q", c.Root(), "example.org")
	}
}

func TestBypass(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/api", true},
		{"/api/db/agents", true},
		{"/apis", true},
		{"/_next/static/chunk.js", true},
		{"/_static/logo.png", true},
		{"/_vercel/insights/script.js", true},
		{"/favicon.ico", true},
		{"/sitemap.xml", true},
		{"/", false},
		{"", false},
		{"/chat", false},
		{"/v1/api", false},
		{"/next", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := Bypass(tt.path); got != tt.want {
				t.Errorf("Bypass(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}
