package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "participant read", role: RoleParticipant, action: ActionRead, allow: true},
		{name: "participant write", role: RoleParticipant, action: ActionWrite, allow: true},
		{name: "participant settings", role: RoleParticipant, action: ActionSettings, allow: false},
		{name: "participant backup", role: RoleParticipant, action: ActionBackup, allow: false},
		{name: "participant sync", role: RoleParticipant, action: ActionSync, allow: false},
		{name: "admin settings", role: RoleAdmin, action: ActionSettings, allow: true},
		{name: "admin backup", role: RoleAdmin, action: ActionBackup, allow: true},
		{name: "unknown role", role: Role("guest"), action: ActionRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestForAndNormalize(t *testing.T) {
	if For(true) != RoleAdmin || For(false) != RoleParticipant {
		t.Fatal("For() mapped admin flag incorrectly")
	}
	if Normalize("admin") != RoleAdmin || Normalize("editor") != RoleParticipant {
		t.Fatal("Normalize() fell back incorrectly")
	}
}
