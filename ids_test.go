package clusterdispatch

import "testing"

func TestTokenRoundTrip(t *testing.T) {
	for _, w := range []WorkerID{0, 1, 10, 4294967295} {
		back, err := ParseToken(w.Token())

		if err != nil || back != w {
			t.Fatal("Bad round trip:", w, back, err)
		}
	}
}

func TestParseBadToken(t *testing.T) {
	for _, tok := range []string{"", "-1", "abc", "4294967296"} {
		if _, err := ParseToken(tok); err == nil {
			t.Error("Accepted bad token", tok)
		}
	}
}

func TestCorrelationKeyString(t *testing.T) {
	k := CorrelationKey{Task: 12, Worker: 3}

	if k.String() != "12/3" {
		t.Fatal("Unexpected key string:", k.String())
	}
}
