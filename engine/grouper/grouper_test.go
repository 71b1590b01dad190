package grouper

import (
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/WessleyAI/leadsignal/engine/domain"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ev(id, tenant, actor string, minutes int) domain.InteractionEvent {
	return domain.InteractionEvent{
		ID: id, TenantID: tenant, Actor: actor,
		Kind: domain.KindReplyToPost, Status: domain.StatusPosted,
		At: base.Add(time.Duration(minutes) * time.Minute),
	}
}

func TestGroup_AliceAndBob(t *testing.T) {
	events := []domain.InteractionEvent{
		ev("e2", "T", "alice", 10),
		ev("e3", "T", "bob", 5),
		ev("e1", "T", "alice", 1),
	}
	groups := Group(events)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].Key != (domain.ActorKey{TenantID: "T", Actor: "alice"}) {
		t.Fatalf("first key = %v", groups[0].Key)
	}
	if got := groups[0].EventIDs(); !reflect.DeepEqual(got, []string{"e1", "e2"}) {
		t.Fatalf("alice events = %v", got)
	}
	if got := groups[1].EventIDs(); !reflect.DeepEqual(got, []string{"e3"}) {
		t.Fatalf("bob events = %v", got)
	}
	if !groups[0].First().Equal(base.Add(time.Minute)) || !groups[0].Last().Equal(base.Add(10*time.Minute)) {
		t.Fatalf("first/last = %v/%v", groups[0].First(), groups[0].Last())
	}
}

func TestGroup_HandlesIgnoreCase(t *testing.T) {
	groups := Group([]domain.InteractionEvent{
		ev("e1", "T", "Alice", 1),
		ev("e2", "T", "alice ", 2),
		ev("e3", "T", "ALICE", 3),
	})
	if len(groups) != 1 || groups[0].Key != (domain.ActorKey{TenantID: "T", Actor: "alice"}) {
		t.Fatalf("groups = %+v", groups)
	}
	if got := groups[0].EventIDs(); !reflect.DeepEqual(got, []string{"e1", "e2", "e3"}) {
		t.Fatalf("events = %v", got)
	}
}

func TestGroup_DropsEventsWithoutActor(t *testing.T) {
	groups := Group([]domain.InteractionEvent{
		ev("e1", "T", "", 1),
		ev("e2", "T", "  ", 2),
		ev("e3", "T", "bob", 3),
	})
	if len(groups) != 1 || groups[0].Key.Actor != "bob" {
		t.Fatalf("groups = %+v", groups)
	}
	if len(Group([]domain.InteractionEvent{ev("e1", "T", "", 1)})) != 0 {
		t.Fatal("unattributed events must not form a group")
	}
}

func TestGroup_SameActorDifferentTenants(t *testing.T) {
	groups := Group([]domain.InteractionEvent{
		ev("a", "T1", "alice", 1),
		ev("b", "T2", "alice", 2),
	})
	if len(groups) != 2 || groups[0].Key.TenantID != "T1" || groups[1].Key.TenantID != "T2" {
		t.Fatalf("tenants must not share groups: %+v", groups)
	}
}

func TestGroup_DeterministicUnderShuffle(t *testing.T) {
	var events []domain.InteractionEvent
	actors := []string{"alice", "bob", "carol", "dave"}
	for i := 0; i < 40; i++ {
		tenant := "T" + string(rune('A'+i%3))
		// Duplicate timestamps exercise the ID tie-break.
		events = append(events, ev(string(rune('a'+i%26))+string(rune('0'+i/26)), tenant, actors[i%len(actors)], i/2))
	}
	want := Group(events)

	r := rand.New(rand.NewSource(7))
	for round := 0; round < 20; round++ {
		shuffled := append([]domain.InteractionEvent(nil), events...)
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		if got := Group(shuffled); !reflect.DeepEqual(got, want) {
			t.Fatalf("round %d: grouping depends on input order", round)
		}
	}
}

func TestGroup_Empty(t *testing.T) {
	if got := Group(nil); len(got) != 0 {
		t.Fatalf("got %v", got)
	}
	var g ActorGroup
	if !g.First().IsZero() || !g.Last().IsZero() {
		t.Fatal("empty group times should be zero")
	}
}

func TestByTenant(t *testing.T) {
	groups := Group([]domain.InteractionEvent{
		ev("1", "T1", "a", 1), ev("2", "T1", "b", 1), ev("3", "T2", "a", 1),
	})
	m := ByTenant(groups)
	if len(m["T1"]) != 2 || len(m["T2"]) != 1 {
		t.Fatalf("by tenant = %v", m)
	}
}
