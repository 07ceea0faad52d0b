package privacy

import (
	"strings"
	"testing"

	"collector/internal/envelope"
)

func newEnv(app string, payload map[string]envelope.Value) envelope.Envelope {
	return envelope.Envelope{
		App:      app,
		Resource: envelope.Resource{Type: "window", ID: "w1"},
		Payload:  envelope.FromMap(payload),
		Privacy:  envelope.Privacy{PIILevel: "unknown"},
	}
}

func TestGuardHashesResourceAndWindowID(t *testing.T) {
	salt := "s3cr3t"
	g := NewGuard(&Rules{HashSalt: salt})
	wid := "win-123"
	env := newEnv("outlook", nil)
	env.WindowID = &wid

	out, ok := g.Apply(env)
	if !ok {
		t.Fatal("expected envelope to survive")
	}
	if out.Resource.ID == "w1" || len(out.Resource.ID) != 64 {
		t.Fatalf("resource id not hashed: %q", out.Resource.ID)
	}
	if out.WindowID == nil || *out.WindowID == wid || len(*out.WindowID) != 64 {
		t.Fatalf("window id not hashed: %v", out.WindowID)
	}
}

func TestGuardRecipientSummarization(t *testing.T) {
	g := NewGuard(&Rules{HashSalt: "x"})
	env := newEnv("outlook", map[string]envelope.Value{
		"recipients": envelope.FromList([]envelope.Value{
			envelope.FromString("a@x.com"),
			envelope.FromString("b@x.com"),
			envelope.FromString("c@y.com"),
		}),
	})

	out, ok := g.Apply(env)
	if !ok {
		t.Fatal("expected envelope to survive")
	}
	recipients := out.Payload.Get("recipients")
	if recipients.Get("count").Num != 3 {
		t.Fatalf("expected count 3, got %v", recipients.Get("count"))
	}
	domainStats := recipients.Get("domain_stats")
	if domainStats.Get("x.com").Num != 2 || domainStats.Get("y.com").Num != 1 {
		t.Fatalf("unexpected domain_stats: %+v", domainStats)
	}

	serialized := valueToString(recipients)
	if strings.Contains(serialized, "@") {
		t.Fatalf("raw address leaked: %q", serialized)
	}
}

func TestGuardDenylistDrop(t *testing.T) {
	g := NewGuard(&Rules{DenylistApps: map[string]bool{"bad": true}, DenylistAction: "drop"})
	_, ok := g.Apply(newEnv("bad", nil))
	if ok {
		t.Fatal("expected envelope to be dropped")
	}
}

func TestGuardDenylistStrip(t *testing.T) {
	g := NewGuard(&Rules{DenylistApps: map[string]bool{"bad": true}, DenylistAction: "strip"})
	env := newEnv("bad", map[string]envelope.Value{"body": envelope.FromString("secret")})
	out, ok := g.Apply(env)
	if !ok {
		t.Fatal("expected stripped envelope to survive")
	}
	if len(out.Payload.Map) != 0 {
		t.Fatalf("expected empty payload after strip, got %+v", out.Payload.Map)
	}
	found := false
	for _, tag := range out.Privacy.Redaction {
		if tag == "denylist_stripped" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected denylist_stripped redaction tag")
	}
}

func TestGuardRedactionDeduplicated(t *testing.T) {
	g := NewGuard(&Rules{HashSalt: "s"})
	env := newEnv("app", nil)
	env.Privacy.Redaction = []string{"resource_id_hashed"}
	out, _ := g.Apply(env)
	count := 0
	for _, tag := range out.Privacy.Redaction {
		if tag == "resource_id_hashed" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected resource_id_hashed to appear once, appeared %d times", count)
	}
}
