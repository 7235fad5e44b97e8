package session

import "testing"

func TestResolveRecordingPathRejectsEscape(t *testing.T) {
	cases := []struct {
		name      string
		dir       string
		requested string
		wantErr   bool
	}{
		{"plain file", "/var/lib/recordings", "session-1.guac", false},
		{"nested path", "/var/lib/recordings", "2026/07/session-1.guac", false},
		{"parent escape", "/var/lib/recordings", "../../etc/passwd", true},
		{"empty path", "/var/lib/recordings", "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := resolveRecordingPath(tc.dir, tc.requested)
			if tc.wantErr && err == nil {
				t.Fatalf("resolveRecordingPath(%q, %q): expected error, got nil", tc.dir, tc.requested)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("resolveRecordingPath(%q, %q): unexpected error: %v", tc.dir, tc.requested, err)
			}
		})
	}
}

func TestRegistryPutGetRemove(t *testing.T) {
	r := newRegistry()
	sess := &recordingSession{id: "abc123"}

	if _, ok := r.get("abc123"); ok {
		t.Fatal("expected miss before put")
	}

	r.put(sess)
	got, ok := r.get("abc123")
	if !ok || got != sess {
		t.Fatal("expected to retrieve the session just put")
	}

	r.remove("abc123")
	if _, ok := r.get("abc123"); ok {
		t.Fatal("expected miss after remove")
	}
}
