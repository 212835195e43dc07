package redact

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/netip"
	"strconv"
	"strings"
	"testing"
)

const sampleAlert = `Suspicious login for alice@corp.com from 203.0.113.7 and 2001:db8:abcd::42.
Beacon to c2.evil-domain.net every 60s; corp.com DNS resolved evil-domain.net to 203.0.113.7.`

func TestRedact_RoundTrip(t *testing.T) {
	t.Parallel()

	b := Extract(sampleAlert)
	redacted, m, err := New().Redact(sampleAlert, b)
	if err != nil {
		t.Fatalf("Redact: %v", err)
	}

	for _, c := range Categories {
		for _, v := range b.Values(c) {
			if strings.Contains(redacted, v) {
				t.Errorf("redacted text still contains %s %q:\n%s", c, v, redacted)
			}
		}
	}

	if got := m.Restore(redacted); got != sampleAlert {
		t.Errorf("Restore(Redact(x)) != x\n got: %q\nwant: %q", got, sampleAlert)
	}
	if m.Len() != b.Len() {
		t.Errorf("map len = %d, want %d", m.Len(), b.Len())
	}
}

func TestRedact_PlaceholderShapes(t *testing.T) {
	t.Parallel()

	b := Bundle{
		Domains: []string{"evil.net"},
		IPs:     []string{"10.1.2.3", "fe80::1"},
		Emails:  []string{"bob@evil.net"},
	}
	text := "evil.net 10.1.2.3 fe80::1 bob@evil.net"
	_, m, err := New().Redact(text, b)
	if err != nil {
		t.Fatalf("Redact: %v", err)
	}

	for _, p := range m.pairs {
		switch p.Category {
		case Domain:
			if !strings.HasSuffix(p.Placeholder, ".example") || strings.Contains(p.Placeholder, "@") {
				t.Errorf("domain placeholder %q has wrong shape", p.Placeholder)
			}
		case IP:
			addr, err := netip.ParseAddr(p.Placeholder)
			if err != nil {
				t.Errorf("ip placeholder %q does not parse: %v", p.Placeholder, err)
				continue
			}
			real := netip.MustParseAddr(p.Real)
			if addr.Is4() != real.Is4() {
				t.Errorf("placeholder %q family differs from %q", p.Placeholder, p.Real)
			}
		case Email:
			if strings.Count(p.Placeholder, "@") != 1 {
				t.Errorf("email placeholder %q has wrong shape", p.Placeholder)
			}
		}
	}
}

func TestRedact_NoCollisions(t *testing.T) {
	t.Parallel()

	// many IPv4 values in the same tiny space stress the collision checks
	var sb strings.Builder
	var ips []string
	for i := 1; i <= 40; i++ {
		ip := "192.0.2." + strconv.Itoa(i)
		ips = append(ips, ip)
		sb.WriteString(ip + " ")
	}
	text := sb.String()

	_, m, err := New().Redact(text, Bundle{IPs: ips})
	if err != nil {
		t.Fatalf("Redact: %v", err)
	}
	pairs := m.pairs
	for i, a := range pairs {
		if strings.Contains(text, a.Placeholder) {
			t.Errorf("placeholder %q occurs in text", a.Placeholder)
		}
		for j, b := range pairs {
			if i == j {
				continue
			}
			if strings.Contains(a.Placeholder, b.Placeholder) {
				t.Errorf("placeholder %q contains %q", a.Placeholder, b.Placeholder)
			}
			if strings.Contains(a.Placeholder, b.Real) {
				t.Errorf("placeholder %q contains real value %q", a.Placeholder, b.Real)
			}
		}
	}
}

func TestRedact_PlaceholderSpaceExhausted(t *testing.T) {
	t.Parallel()

	// a constant random stream always yields the same candidate, so the
	// second value can never get a distinct placeholder
	r := New(WithRand(bytes.NewReader(bytes.Repeat([]byte{0x01}, 4096))), WithMaxAttempts(4))
	_, _, err := r.Redact("a.com b.com", Bundle{Domains: []string{"a.com", "b.com"}})
	if !errors.Is(err, ErrPlaceholderSpace) {
		t.Fatalf("err = %v, want ErrPlaceholderSpace", err)
	}
}

func TestRedact_RandomFailure(t *testing.T) {
	t.Parallel()

	r := New(WithRand(bytes.NewReader(nil)))
	if _, _, err := r.Redact("a.com", Bundle{Domains: []string{"a.com"}}); err == nil {
		t.Fatal("expected error from exhausted random source")
	}
}

func TestRedact_EmptyBundle(t *testing.T) {
	t.Parallel()

	out, m, err := New().Redact("nothing to hide", Bundle{})
	if err != nil {
		t.Fatalf("Redact: %v", err)
	}
	if out != "nothing to hide" {
		t.Errorf("out = %q", out)
	}
	if m.Restore("x") != "x" || m.Apply("x") != "x" {
		t.Error("empty map must be identity")
	}
}

func TestRestore_SerializedVerdict(t *testing.T) {
	t.Parallel()

	text := "alert from 198.51.100.20 for ops@corp.com"
	b := Extract(text)
	_, m, err := New().Redact(text, b)
	if err != nil {
		t.Fatalf("Redact: %v", err)
	}
	ipPh := m.Apply("198.51.100.20")
	mailPh := m.Apply("ops@corp.com")

	verdict := map[string]any{
		"classification": "possible-incident",
		"reasoning":      []string{"host " + ipPh + " contacted " + mailPh},
		"next_steps": []map[string]any{
			{"step": 1, "action": "block", "details": "block " + ipPh},
		},
	}
	raw, err := json.Marshal(verdict)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	restored := m.Restore(string(raw))
	var back struct {
		Reasoning []string `json:"reasoning"`
		NextSteps []struct {
			Details string `json:"details"`
		} `json:"next_steps"`
	}
	if err := json.Unmarshal([]byte(restored), &back); err != nil {
		t.Fatalf("restored verdict does not parse: %v", err)
	}
	if back.Reasoning[0] != "host 198.51.100.20 contacted ops@corp.com" {
		t.Errorf("reasoning = %q", back.Reasoning[0])
	}
	if back.NextSteps[0].Details != "block 198.51.100.20" {
		t.Errorf("details = %q", back.NextSteps[0].Details)
	}
}

func TestRedact_KeyedIPv6AndInternalHosts(t *testing.T) {
	t.Parallel()

	text := "src=host:2001:db8::1 src:fe80::1 logon to dc01.corp.local from fileserver.acme.internal"
	redacted, m, err := New().Redact(text, Extract(text))
	if err != nil {
		t.Fatalf("Redact: %v", err)
	}
	for _, v := range []string{"2001:db8::1", "fe80::1", "dc01.corp.local", "fileserver.acme.internal"} {
		if strings.Contains(redacted, v) {
			t.Errorf("redacted text still contains %q:\n%s", v, redacted)
		}
	}
	if got := m.Restore(redacted); got != text {
		t.Errorf("Restore(Redact(x)) = %q, want %q", got, text)
	}
}

func TestMap_ApplyIsIdempotentOnRedactedText(t *testing.T) {
	t.Parallel()

	b := Extract(sampleAlert)
	redacted, m, err := New().Redact(sampleAlert, b)
	if err != nil {
		t.Fatalf("Redact: %v", err)
	}
	if again := m.Apply(redacted); again != redacted {
		t.Errorf("Apply on redacted text changed it:\n%q\n%q", redacted, again)
	}
}

func TestMap_Nil(t *testing.T) {
	t.Parallel()

	var m *Map
	if m.Apply("a") != "a" || m.Restore("a") != "a" || m.Len() != 0 {
		t.Error("nil map must behave as identity")
	}
}
