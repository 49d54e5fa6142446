package permissions

import (
	"errors"
	"time"
)

// Sentinel errors returned by stores
var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrPostNotFound    = errors.New("post not found")
)

// Denial reasons shown directly to users. The audit detector inspects these
// strings, so their wording is load-bearing.
const (
	ReasonPremiumContent           = "Conteúdo premium requer subscrição"
	ReasonReflectionPremiumContent = "Reflexões em conteúdo premium requerem subscrição"
	ReasonReflectionPremiumAuthor  = "Reflexões em posts de autores premium requerem subscrição"
	ReasonConnectionRequiresPlan   = "Pedidos de conexão requerem subscrição premium"
	ReasonActionNotRecognized      = "Ação não reconhecida"
	ReasonPostNotFound             = "Post não encontrado"
	ReasonAccessCheckError         = "Erro ao verificar acesso"
	ReasonReflectionCheckError     = "Erro ao verificar permissões de reflexão"
)

// Tier is a user's subscription tier
type Tier int

const (
	TierFree Tier = iota
	TierPremium
)

func (t Tier) String() string {
	if t == TierPremium {
		return "premium"
	}
	return "free"
}

// UserPermissions is the capability bundle derived from a user's tier.
// It is always replaced wholesale, never mutated.
type UserPermissions struct {
	Tier                        Tier `json:"-"`
	CanViewPremiumContent       bool `json:"canViewPremiumContent"`
	CanCreatePremiumContent     bool `json:"canCreatePremiumContent"`
	CanRequestConnection        bool `json:"canRequestConnection"`
	RequiresMandatoryModeration bool `json:"requiresMandatoryModeration"`
}

// CanCreateReflectionOnPost reports whether the holder may reflect on a post
// with the given flags when they are not its author.
func (p UserPermissions) CanCreateReflectionOnPost(postIsPremium, authorIsPremium bool) bool {
	return ReflectionAllowed(p.Tier, postIsPremium, authorIsPremium)
}

// ReflectionAllowed is the reflection eligibility rule: premium users may
// reflect anywhere, free users only on free posts by free authors.
func ReflectionAllowed(tier Tier, postIsPremium, authorIsPremium bool) bool {
	if tier == TierPremium {
		return true
	}
	return !postIsPremium && !authorIsPremium
}

// PermissionsFor returns the static permission bundle for a tier
func PermissionsFor(tier Tier) UserPermissions {
	if tier == TierPremium {
		return UserPermissions{
			Tier:                        TierPremium,
			CanViewPremiumContent:       true,
			CanCreatePremiumContent:     true,
			CanRequestConnection:        true,
			RequiresMandatoryModeration: false,
		}
	}
	return UserPermissions{
		Tier:                        TierFree,
		CanViewPremiumContent:       false,
		CanCreatePremiumContent:     false,
		CanRequestConnection:        false,
		RequiresMandatoryModeration: true,
	}
}

// PremiumStatus is the read-only projection of a user's subscription state
type PremiumStatus struct {
	IsPremium bool       `json:"isPremium"`
	ExpiresAt *time.Time `json:"expiresAt"`
	Since     *time.Time `json:"since"`
}

// Profile holds the subscription fields of a user profile row
type Profile struct {
	ID               string
	IsPremium        bool
	PremiumExpiresAt *time.Time
	PremiumSince     *time.Time
}

// Post holds the access-relevant fields of a post row
type Post struct {
	ID               string `json:"id"`
	AuthorID         string `json:"authorId"`
	IsPremiumContent bool   `json:"isPremiumContent"`
}

// PostWithAuthor is a post joined with its author's subscription fields
type PostWithAuthor struct {
	Post
	AuthorIsPremium        bool
	AuthorPremiumExpiresAt *time.Time
}

// AccessResult is the outcome of a point-in-time access check
type AccessResult struct {
	Allowed       bool   `json:"allowed"`
	Reason        string `json:"reason,omitempty"`
	UpgradePrompt bool   `json:"upgradePrompt"`
}

// Allowed is the result for a granted check
func Allowed() AccessResult {
	return AccessResult{Allowed: true}
}

// Denied builds a denial with the given reason
func Denied(reason string, upgradePrompt bool) AccessResult {
	return AccessResult{Allowed: false, Reason: reason, UpgradePrompt: upgradePrompt}
}

// ConnectionAction is one of the two actions PermissionService understands
type ConnectionAction string

const (
	ConnectionRequest ConnectionAction = "request"
	ConnectionRespond ConnectionAction = "respond"
)

// SubscriptionEventType enumerates subscription transitions that change permissions
type SubscriptionEventType string

const (
	SubscriptionUpgraded   SubscriptionEventType = "upgraded"
	SubscriptionDowngraded SubscriptionEventType = "downgraded"
	SubscriptionRenewed    SubscriptionEventType = "renewed"
	SubscriptionExpired    SubscriptionEventType = "expired"
)

// SubscriptionEvent reports a subscription transition for one or more users
type SubscriptionEvent struct {
	Type    SubscriptionEventType `json:"type"`
	UserIDs []string              `json:"userIds"`
}

// Valid reports whether the event type is known
func (e SubscriptionEvent) Valid() bool {
	switch e.Type {
	case SubscriptionUpgraded, SubscriptionDowngraded, SubscriptionRenewed, SubscriptionExpired:
		return true
	}
	return false
}
