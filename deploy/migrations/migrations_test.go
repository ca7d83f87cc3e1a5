package migrations

import (
	"testing"
	"testing/fstest"
)

func TestEmbeddedScripts(t *testing.T) {
	all, err := Load(Files)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(all) != 2 || all[0].Version != "0001" || all[1].Version != "0002" {
		t.Fatalf("unexpected migrations %+v", all)
	}
	if len(all[0].Statements) != 2 {
		t.Fatalf("expected attestations and verdicts tables, got %d statements", len(all[0].Statements))
	}
	if got := Latest(); got != "0002" {
		t.Fatalf("expected latest version 0002, got %q", got)
	}
}

func TestLoadOrdersAndSkipsEmpty(t *testing.T) {
	fsys := fstest.MapFS{
		"0010_late.sql":  {Data: []byte("CREATE TABLE z (id INT);")},
		"0002_b.sql":     {Data: []byte("-- comment only;\n")},
		"0001_init.sql":  {Data: []byte("-- header\nCREATE TABLE a (id INT);\n\nCREATE TABLE b (id INT);")},
		"notes.txt":      {Data: []byte("ignored")},
		"0003_blank.sql": {Data: []byte("  ;  ")},
	}
	all, err := Load(fsys)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(all) != 2 || all[0].Name != "0001_init.sql" || all[1].Version != "0010" {
		t.Fatalf("unexpected migrations %+v", all)
	}
	if all[0].Statements[0] != "CREATE TABLE a (id INT)" {
		t.Fatalf("comment not stripped: %q", all[0].Statements[0])
	}
}
