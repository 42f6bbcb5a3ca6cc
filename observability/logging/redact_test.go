package logging

import "testing"

func TestMaskFieldRedactsUnknownKeys(t *testing.T) {
	attr := MaskField("signature", "0xdeadbeef")
	if attr.Value.String() != RedactedValue {
		t.Fatalf("expected signature to be redacted, got %q", attr.Value.String())
	}

	attr = MaskField("price", "1000000000")
	if attr.Value.String() != "1000000000" {
		t.Fatalf("expected allowlisted key to pass through, got %q", attr.Value.String())
	}

	attr = MaskField("signature", "")
	if attr.Value.String() != "" {
		t.Fatalf("expected empty value to pass through unchanged")
	}
}

func TestMaskValue(t *testing.T) {
	if got := MaskValue("secret"); got != RedactedValue {
		t.Fatalf("expected redaction, got %q", got)
	}
	if got := MaskValue("  "); got != "  " {
		t.Fatalf("expected whitespace value unchanged, got %q", got)
	}
}

func TestAllowlistCoversEventAttributes(t *testing.T) {
	for _, key := range []string{"vaultAddress", "owner", "liquidator", "newAdmin", "blockHeight"} {
		if !IsAllowlisted(key) {
			t.Fatalf("expected %q to be allowlisted", key)
		}
	}
	if IsAllowlisted("signature") {
		t.Fatalf("signature must never be allowlisted")
	}
	if len(RedactionAllowlist()) == 0 {
		t.Fatalf("allowlist should not be empty")
	}
}
