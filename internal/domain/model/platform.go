package model

import "github.com/shopspring/decimal"

// PlatformProvider is one credential type offered by a platform.
type PlatformProvider struct {
	Name       string
	Deprecated bool
}

// Platform groups the providers a user verifies through one integration.
type Platform struct {
	ID          string
	Name        string
	Description string
	Providers   []PlatformProvider
}

// ProviderWeights maps provider name to the points it is worth.
type ProviderWeights map[string]decimal.Decimal

// PlatformScore is the per-platform point total shown to the user.
type PlatformScore struct {
	PlatformID            string
	Name                  string
	Description           string
	PossiblePoints        decimal.Decimal
	DisplayPossiblePoints decimal.Decimal
	EarnedPoints          decimal.Decimal
	IsDeduplicated        bool
	IsVerified            bool
}
