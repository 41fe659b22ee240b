package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"0.8.1", "0.8.1", true},
		{"v4.0.2", "4.0.2", true},
		{"Geth/v1.13.5-stable/linux-amd64/go1.21.4", "1.13.5", true},
		{"/Satoshi:25.0.0/", "25.0.0", true},
		{"unknown", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		v, ok := ParseVersion(tt.in)
		if ok != tt.ok {
			t.Errorf("ParseVersion(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && v.String() != tt.want {
			t.Errorf("ParseVersion(%q) = %s, want %s", tt.in, v, tt.want)
		}
	}
}

func TestNodeGroup_IsOutdated(t *testing.T) {
	g := NodeGroup{MinVersion: "0.8.0"}

	tests := []struct {
		version string
		want    bool
	}{
		{"0.7.9", true},
		{"0.8", false},
		{"0.8.0", false},
		{"0.10.0", false},
		{"garbage", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := g.IsOutdated(tt.version); got != tt.want {
			t.Errorf("IsOutdated(%q) = %v, want %v", tt.version, got, tt.want)
		}
	}

	if (NodeGroup{}).IsOutdated("0.0.1") {
		t.Error("group without minimum must accept any version")
	}
}

func TestCanTransition(t *testing.T) {
	if !CanTransition(StateUnknown, StateAllowed) {
		t.Error("unknown -> allowed must be valid")
	}
	if !CanTransition(StateOffline, StateSynchronizing) {
		t.Error("offline -> synchronizing must be valid")
	}
	if CanTransition(StateAllowed, StateUnknown) {
		t.Error("allowed -> unknown must be invalid")
	}
}

func TestConnectionStatus_JSON(t *testing.T) {
	for _, st := range []ConnectionStatus{StatusUnknown, StatusAllowed, StatusOffline, StatusOutdated} {
		b, err := json.Marshal(st)
		if err != nil {
			t.Fatalf("marshal %v: %v", st, err)
		}
		var got ConnectionStatus
		if err := json.Unmarshal(b, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", b, err)
		}
		if got != st {
			t.Errorf("round trip %v -> %s -> %v", st, b, got)
		}
	}

	var bad ConnectionStatus
	if err := json.Unmarshal([]byte(`"exploded"`), &bad); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestNode_EqualAndSameEndpoint(t *testing.T) {
	a := NewNode(Origin{Scheme: "https", Host: "a.example"}, nil)
	b := a.Clone()

	if !a.Equal(b) {
		t.Fatal("clone must be equal")
	}

	b.Height = Ptr(10)
	if a.Equal(b) {
		t.Error("height change must break equality")
	}
	if !a.SameEndpoint(b) {
		t.Error("height change must not count as endpoint edit")
	}

	b.IsEnabled = false
	if a.SameEndpoint(b) {
		t.Error("enabled toggle is an endpoint edit")
	}
}

func TestNode_CloneIsDeep(t *testing.T) {
	a := NewNode(Origin{Scheme: "https", Host: "a.example"}, &Origin{Scheme: "https", Host: "svc.example"})
	a.Height = Ptr(5)

	b := a.Clone()
	*b.Height = 6
	b.Service.Host = "other"

	if *a.Height != 5 || a.Service.Host != "svc.example" {
		t.Errorf("clone shares memory with original: %+v", a)
	}
}

func TestPreferredOrigin(t *testing.T) {
	main := Origin{Scheme: "https", Host: "main.example"}
	svc := Origin{Scheme: "https", Host: "svc.example"}

	n := NewNode(main, &svc)
	if n.PreferredOrigin() != main {
		t.Error("unknown preference resolves to main")
	}
	n.PreferMain = Ptr(false)
	if n.PreferredOrigin() != svc {
		t.Error("prefer main = false resolves to service")
	}

	solo := NewNode(main, nil)
	solo.PreferMain = Ptr(false)
	if solo.PreferredOrigin() != main {
		t.Error("node without service origin resolves to main")
	}
}

func TestDTO_RoundTrip(t *testing.T) {
	n := NewNode(Origin{Scheme: "https", Host: "a.example", Port: 36666}, &Origin{Scheme: "http", Host: "b.example", Port: 80})
	n.PreferMain = Ptr(true)
	n.Status = StatusOutdated
	n.Height = Ptr(100)
	n.Version = "0.7.0"
	n.Ping = Ptr(123456789 * time.Nanosecond)
	n.WSEnabled = true
	n.WSPort = Ptr(36668)

	got := FromDTO(ToDTO(NodeWithGroup{Group: GroupADM, Node: n}))
	if got.Group != GroupADM {
		t.Errorf("group = %s, want %s", got.Group, GroupADM)
	}
	if !got.Node.Equal(n) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got.Node, n)
	}
}

func TestMigrateLegacy(t *testing.T) {
	got := MigrateLegacy(LegacyNodeDTO{Group: "eth", Scheme: "https", Host: "x.example", Port: 443, Enabled: false})
	if got.Node.ID == "" {
		t.Error("migrated node needs an id")
	}
	if got.Node.IsEnabled {
		t.Error("enabled flag must be preserved")
	}
	if got.Node.Status != StatusUnknown {
		t.Errorf("status = %v, want unknown", got.Node.Status)
	}

	kept := MigrateLegacy(LegacyNodeDTO{ID: "fixed", Group: "eth", Scheme: "https", Host: "x.example"})
	if kept.Node.ID != "fixed" {
		t.Errorf("id = %s, want fixed", kept.Node.ID)
	}
}

func TestParseOrigin(t *testing.T) {
	o, err := ParseOrigin("https://node.example:36666")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Host != "node.example" || o.Port != 36666 || o.Scheme != "https" {
		t.Errorf("unexpected origin %+v", o)
	}
	if o.URL() != "https://node.example:36666" {
		t.Errorf("URL() = %s", o.URL())
	}

	if _, err := ParseOrigin("node.example"); err == nil {
		t.Error("expected error without scheme")
	}
}
