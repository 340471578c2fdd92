package db

import (
	"strings"
	"testing"
)

func TestMigrationNamesSorted(t *testing.T) {
	names, err := MigrationNames()
	if err != nil {
		t.Fatalf("MigrationNames: %v", err)
	}
	if len(names) == 0 {
		t.Fatal("no embedded migrations")
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Errorf("migrations out of order: %s before %s", names[i-1], names[i])
		}
	}
	for _, n := range names {
		if !strings.HasSuffix(n, ".sql") {
			t.Errorf("unexpected migration file %q", n)
		}
	}
}

func TestInitMigrationEnforcesMessageShape(t *testing.T) {
	body, err := migrationFS.ReadFile("migrations/0001_init.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	sql := string(body)
	for _, want := range []string{
		"CHECK ((receiver_id IS NULL) <> (room_id IS NULL))",
		"CHECK (user1 < user2)",
		"UNIQUE (from_user, to_user)",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("init migration missing %q", want)
		}
	}
}
