package permissions

import "time"

// IsPremiumActive reports whether a subscription flag is in effect at now.
// A nil expiry means the subscription never lapses.
func IsPremiumActive(isPremium bool, expiresAt *time.Time, now time.Time) bool {
	return isPremium && (expiresAt == nil || expiresAt.After(now))
}

// TierAt returns the profile's effective tier at now
func (p *Profile) TierAt(now time.Time) Tier {
	if IsPremiumActive(p.IsPremium, p.PremiumExpiresAt, now) {
		return TierPremium
	}
	return TierFree
}

// StatusAt projects the profile into a PremiumStatus evaluated at now
func (p *Profile) StatusAt(now time.Time) PremiumStatus {
	return PremiumStatus{
		IsPremium: IsPremiumActive(p.IsPremium, p.PremiumExpiresAt, now),
		ExpiresAt: p.PremiumExpiresAt,
		Since:     p.PremiumSince,
	}
}

// AuthorPremiumAt reports whether the post's author is premium at now
func (p *PostWithAuthor) AuthorPremiumAt(now time.Time) bool {
	return IsPremiumActive(p.AuthorIsPremium, p.AuthorPremiumExpiresAt, now)
}
