package task

import (
	"testing"

	"github.com/ChaosChain/chaoschain-dvn/internal/consensus"
)

func TestResolveListOptionsNormalizes(t *testing.T) {
	opts := resolveListOptions([]ListOption{
		WithLimit(500),
		WithOffset(-3),
		WithStatuses(StatusFailed, "bogus", StatusFailed, StatusPending),
		WithQuery("  store_1 "),
		WithSortOrder(SortOrder(7)),
		nil,
	})
	if opts.Limit != maxPageSize || opts.Offset != 0 {
		t.Fatalf("unexpected window %d/%d", opts.Limit, opts.Offset)
	}
	if len(opts.Statuses) != 2 || opts.Statuses[0] != StatusFailed || opts.Statuses[1] != StatusPending {
		t.Fatalf("unexpected statuses %v", opts.Statuses)
	}
	if opts.Query != "store_1" || opts.Order != SortByUpdatedDesc {
		t.Fatalf("unexpected query/order %q/%d", opts.Query, opts.Order)
	}
	if def := resolveListOptions(nil); def.Limit != defaultPageSize || def.Statuses != nil {
		t.Fatalf("unexpected defaults %+v", def)
	}
}

func TestListOptionsMatchAndWindow(t *testing.T) {
	verified := &Task{ID: "b", Status: StatusSucceeded, UpdatedAt: 20, Result: &ExecutionResult{VerdictState: consensus.StateVerified}}
	pending := &Task{ID: "a", Status: StatusPending, UpdatedAt: 20, LastError: "Ledger Timeout"}
	old := &Task{ID: "c", Status: StatusFailed, UpdatedAt: 5}

	decided := resolveListOptions([]ListOption{WithResultPresence(true), WithVerdictState("verified")})
	if !decided.Match(verified) || decided.Match(pending) {
		t.Fatal("verdict filters mismatched")
	}
	query := resolveListOptions([]ListOption{WithQuery("ledger timeout")})
	if !query.Match(pending) || query.Match(old) {
		t.Fatal("query should match last error case-insensitively")
	}
	ranged := ListOptions{Since: 10, Until: 20}
	if ranged.Match(old) || !ranged.Match(pending) {
		t.Fatal("update range mismatched")
	}

	desc := resolveListOptions([]ListOption{WithLimit(2)})
	got := desc.window([]*Task{old, pending, verified})
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "a" {
		t.Fatalf("unexpected desc window %v %v", got[0].ID, got[1].ID)
	}
	asc := resolveListOptions([]ListOption{WithSortOrder(SortByUpdatedAsc), WithOffset(1)})
	got = asc.window([]*Task{verified, old, pending})
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("unexpected asc window")
	}
	if out := asc.window(nil); len(out) != 0 {
		t.Fatalf("expected empty window, got %d", len(out))
	}
}
