// Package grouper partitions interaction events by (tenant, actor).
package grouper

import (
	"sort"
	"time"

	"github.com/WessleyAI/leadsignal/engine/domain"
	"github.com/WessleyAI/leadsignal/pkg/fn"
)

// ActorGroup is one actor's events within a tenant, oldest first.
type ActorGroup struct {
	Key    domain.ActorKey
	Events []domain.InteractionEvent
}

// First returns the earliest event time.
func (g ActorGroup) First() time.Time {
	if len(g.Events) == 0 {
		return time.Time{}
	}
	return g.Events[0].At
}

// Last returns the latest event time.
func (g ActorGroup) Last() time.Time {
	if len(g.Events) == 0 {
		return time.Time{}
	}
	return g.Events[len(g.Events)-1].At
}

// EventIDs returns the IDs of the group's events.
func (g ActorGroup) EventIDs() []string {
	return fn.Map(g.Events, func(e domain.InteractionEvent) string { return e.ID })
}

// Group partitions events by (tenant, actor), with handles compared
// case-insensitively. Events without an actor are dropped. Within a group
// events are ordered by timestamp, then ID; groups are ordered by tenant,
// then actor. The result depends only on the set of events, not their input
// order.
func Group(events []domain.InteractionEvent) []ActorGroup {
	attributed := fn.Filter(events, func(e domain.InteractionEvent) bool { return e.Key().Actor != "" })
	byKey := fn.GroupBy(attributed, domain.InteractionEvent.Key)

	groups := make([]ActorGroup, 0, len(byKey))
	for k, evs := range byKey {
		sorted := append([]domain.InteractionEvent(nil), evs...)
		sort.Slice(sorted, func(i, j int) bool {
			if !sorted[i].At.Equal(sorted[j].At) {
				return sorted[i].At.Before(sorted[j].At)
			}
			return sorted[i].ID < sorted[j].ID
		})
		groups = append(groups, ActorGroup{Key: k, Events: sorted})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Key.TenantID != groups[j].Key.TenantID {
			return groups[i].Key.TenantID < groups[j].Key.TenantID
		}
		return groups[i].Key.Actor < groups[j].Key.Actor
	})
	return groups
}

// ByTenant splits groups by tenant, keeping their order.
func ByTenant(groups []ActorGroup) map[string][]ActorGroup {
	return fn.GroupBy(groups, func(g ActorGroup) string { return g.Key.TenantID })
}
