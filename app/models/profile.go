package models

import "time"

// ProfileKind selects the role-specific profile table that carries a balance.
type ProfileKind int

const (
	ProfileKindBusiness ProfileKind = iota + 1
	ProfileKindInfluencer
)

func (k ProfileKind) String() string {
	switch k {
	case ProfileKindBusiness:
		return ROLE_BUSINESS
	case ProfileKindInfluencer:
		return ROLE_INFLUENCER
	default:
		return "unknown"
	}
}

// Valid reports whether k is one of the declared kinds.
func (k ProfileKind) Valid() bool {
	return k == ProfileKindBusiness || k == ProfileKindInfluencer
}

// Table is the backing table of the kind.
func (k ProfileKind) Table() string {
	switch k {
	case ProfileKindBusiness:
		return BusinessProfile{}.TableName()
	case ProfileKindInfluencer:
		return InfluencerProfile{}.TableName()
	default:
		return ""
	}
}

// NewRow returns an empty profile row of this kind for userID.
func (k ProfileKind) NewRow(userID string) interface{} {
	switch k {
	case ProfileKindBusiness:
		return &BusinessProfile{UserID: userID}
	case ProfileKindInfluencer:
		return &InfluencerProfile{UserID: userID}
	default:
		return nil
	}
}

func ProfileKindForRole(role string) (ProfileKind, bool) {
	switch NormalizeRole(role) {
	case ROLE_BUSINESS:
		return ProfileKindBusiness, true
	case ROLE_INFLUENCER:
		return ProfileKindInfluencer, true
	default:
		return 0, false
	}
}

type BusinessProfile struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"user_id"`
	CompanyName  string    `gorm:"type:varchar(200)" json:"company_name"`
	Industry     string    `gorm:"type:varchar(100)" json:"industry"`
	Website      string    `gorm:"type:varchar(255)" json:"website"`
	TokenBalance int64     `gorm:"not null;default:0" json:"token_balance"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (BusinessProfile) TableName() string { return "business_profiles" }

type InfluencerProfile struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UserID        string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"user_id"`
	DisplayName   string    `gorm:"type:varchar(150)" json:"display_name"`
	Niche         string    `gorm:"type:varchar(100)" json:"niche"`
	FollowerCount int64     `gorm:"default:0" json:"follower_count"`
	TokenBalance  int64     `gorm:"not null;default:0" json:"token_balance"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (InfluencerProfile) TableName() string { return "influencer_profiles" }

// Profile is the kind-independent view of a profile row used by the ledger.
type Profile struct {
	Kind         ProfileKind `gorm:"-" json:"kind"`
	ID           uint        `json:"id"`
	UserID       string      `json:"user_id"`
	TokenBalance int64       `json:"token_balance"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}
