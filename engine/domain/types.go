// Package domain defines the core types shared by the discovery and
// correlation pipelines, plus the error taxonomy used across stages.
package domain

import (
	"strings"
	"time"
)

// Source is an external community feed. Read-only to the pipeline.
type Source struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// DiscoveredItem is a piece of external content indexed for relevance matching.
// Embedding is nil when the item could not be embedded.
type DiscoveredItem struct {
	ID          string    `json:"id"`
	SourceID    string    `json:"source_id"`
	Author      string    `json:"author"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Score       int       `json:"score"`
	NumComments int       `json:"num_comments"`
	Permalink   string    `json:"permalink"`
	CreatedAt   time.Time `json:"created_at"`
	Embedding   []float32 `json:"embedding,omitempty"`
	Category    string    `json:"category,omitempty"`
	Summary     string    `json:"summary,omitempty"`
}

// InteractionKind is what a tenant's account did toward an actor.
type InteractionKind string

const (
	KindReplyToPost    InteractionKind = "reply_to_post"
	KindReplyToComment InteractionKind = "reply_to_comment"
	KindDirectMessage  InteractionKind = "direct_message"
)

// InteractionStatus follows new → scheduled → posted, or new → ignored.
type InteractionStatus string

const (
	StatusNew       InteractionStatus = "new"
	StatusScheduled InteractionStatus = "scheduled"
	StatusPosted    InteractionStatus = "posted"
	StatusIgnored   InteractionStatus = "ignored"
)

// Terminal reports whether no further transitions are possible.
func (s InteractionStatus) Terminal() bool {
	return s == StatusPosted || s == StatusIgnored
}

// CanTransition reports whether s → next is a legal status change.
func (s InteractionStatus) CanTransition(next InteractionStatus) bool {
	switch s {
	case StatusNew:
		return next == StatusScheduled || next == StatusIgnored
	case StatusScheduled:
		return next == StatusPosted
	}
	return false
}

// InteractionEvent records one outbound interaction with an external actor.
// Only posted events take part in correlation.
type InteractionEvent struct {
	ID       string            `json:"id"`
	TenantID string            `json:"tenant_id"`
	Actor    string            `json:"actor"`
	Kind     InteractionKind   `json:"kind"`
	Status   InteractionStatus `json:"status"`
	Content  string            `json:"content"`
	ItemID   string            `json:"item_id,omitempty"`
	LeadID   string            `json:"lead_id,omitempty"`
	At       time.Time         `json:"at"`
}

// ActorKey identifies an external actor within one tenant.
type ActorKey struct {
	TenantID string `json:"tenant_id"`
	Actor    string `json:"actor"`
}

func (k ActorKey) String() string { return k.TenantID + "/" + k.Actor }

// Key returns the (tenant, actor) key for the event. Handles are
// case-insensitive on the platform, so the actor is normalized.
func (e InteractionEvent) Key() ActorKey {
	return ActorKey{TenantID: e.TenantID, Actor: NormalizeActor(e.Actor)}
}

// NormalizeActor trims and lower-cases an actor handle.
func NormalizeActor(handle string) string {
	return strings.ToLower(strings.TrimSpace(handle))
}

// Lead is the durable, scored record of an actor for one tenant.
// Notes belong to the tenant owner and are never written by the pipeline.
type Lead struct {
	ID                 string    `json:"id"`
	TenantID           string    `json:"tenant_id"`
	Actor              string    `json:"actor"`
	Score              int       `json:"score"`
	BuyingSignals      []string  `json:"buying_signals"`
	PainPoints         []string  `json:"pain_points"`
	Summary            string    `json:"summary"`
	FirstInteractionAt time.Time `json:"first_interaction_at"`
	LastInteractionAt  time.Time `json:"last_interaction_at"`
	Notes              string    `json:"notes,omitempty"`
}

// Classification is the classifier's verdict for one actor.
type Classification struct {
	Actor         string   `json:"actor"`
	Score         int      `json:"score"`
	Summary       string   `json:"summary"`
	BuyingSignals []string `json:"buying_signals"`
	PainPoints    []string `json:"pain_points"`
}

// CredentialToken is a bearer credential with its lifetime and granted scopes.
type CredentialToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry"`
	Scopes       []string  `json:"scopes,omitempty"`
}

// ValidAt reports whether the token can be used at t, treating it as expired
// margin early. A zero expiry is unknown and never valid.
func (t CredentialToken) ValidAt(now time.Time, margin time.Duration) bool {
	if t.AccessToken == "" || t.Expiry.IsZero() {
		return false
	}
	return now.Before(t.Expiry.Add(-margin))
}

// SubscriptionStatus is the billing state of a tenant.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// Website is the tenant's source-of-truth product profile.
type Website struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Keywords       []string `json:"keywords"`
	TargetAudience string   `json:"target_audience"`
	Active         bool     `json:"active"`
}

// ExternalAccount is the tenant's account on the content platform.
type ExternalAccount struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Active   bool   `json:"active"`
}

// TenantRecord is a tenant row as the store returns it, before eligibility filtering.
type TenantRecord struct {
	TenantID     string             `json:"tenant_id"`
	Subscription SubscriptionStatus `json:"subscription"`
	Website      Website            `json:"website"`
	Account      ExternalAccount    `json:"account"`
}

// ActiveTenant is a tenant eligible for processing in the current run.
type ActiveTenant struct {
	TenantID string          `json:"tenant_id"`
	Website  Website         `json:"website"`
	Account  ExternalAccount `json:"account"`
}

// ItemMatch is a discovered item returned by similarity search.
// Similarity is cosine similarity in [-1, 1], higher is closer.
type ItemMatch struct {
	Item       DiscoveredItem `json:"item"`
	Similarity float64        `json:"similarity"`
}

// ItemFilter scopes a similarity search. Empty SourceIDs and zero Since
// mean no restriction.
type ItemFilter struct {
	SourceIDs []string  `json:"source_ids,omitempty"`
	Since     time.Time `json:"since,omitempty"`
	Limit     int       `json:"limit,omitempty"`
}
