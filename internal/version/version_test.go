package version

import "testing"

func TestUserAgent(t *testing.T) {
	if got := UserAgent(""); got != "aiwatch/"+Version {
		t.Fatalf("默认 UA 不正确: %s", got)
	}
	if got := UserAgent("watch"); got != "watch/"+Version {
		t.Fatalf("UA 不正确: %s", got)
	}
}
