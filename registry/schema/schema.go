package schema

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PoCOrphan is the sentinel point of contact for listings nobody maintains.
const PoCOrphan = "orphan"

// GroupPrefix marks a fas_name or point of contact that refers to a group
// rather than an individual user, e.g. "group::rust-sig".
const GroupPrefix = "group::"

func IsGroupName(fasName string) bool {
	return strings.HasPrefix(fasName, GroupPrefix)
}

// GroupName strips the group prefix, returning the bare group name and
// whether the value was a group token at all.
func GroupName(fasName string) (string, bool) {
	if !IsGroupName(fasName) {
		return "", false
	}
	return strings.TrimPrefix(fasName, GroupPrefix), true
}

type PackageStatus string

const (
	PackageApproved PackageStatus = "Approved"
	PackageRemoved  PackageStatus = "Removed"
)

func (s PackageStatus) Valid() bool {
	return s == PackageApproved || s == PackageRemoved
}

type CollectionStatus string

const (
	CollectionUnderDevelopment CollectionStatus = "Under Development"
	CollectionActive           CollectionStatus = "Active"
	CollectionEOL              CollectionStatus = "EOL"
)

func (s CollectionStatus) Valid() bool {
	return s == CollectionUnderDevelopment || s == CollectionActive || s == CollectionEOL
}

type ListingStatus string

const (
	ListingApproved ListingStatus = "Approved"
	ListingOrphaned ListingStatus = "Orphaned"
	ListingRetired  ListingStatus = "Retired"
	ListingRemoved  ListingStatus = "Removed"
)

func (s ListingStatus) Valid() bool {
	switch s {
	case ListingApproved, ListingOrphaned, ListingRetired, ListingRemoved:
		return true
	}
	return false
}

type AclKind string

const (
	AclCommit        AclKind = "commit"
	AclBuild         AclKind = "build"
	AclWatchBugzilla AclKind = "watchbugzilla"
	AclWatchCommits  AclKind = "watchcommits"
	AclApproveAcls   AclKind = "approveacls"
	AclCheckout      AclKind = "checkout"
)

// AclKinds is the closed set of grantable permissions.
var AclKinds = []AclKind{
	AclCommit, AclBuild, AclWatchBugzilla, AclWatchCommits, AclApproveAcls, AclCheckout,
}

func (a AclKind) Valid() bool {
	for _, kind := range AclKinds {
		if a == kind {
			return true
		}
	}
	return false
}

type AclStatus string

const (
	AclAwaitingReview AclStatus = "Awaiting Review"
	AclApproved       AclStatus = "Approved"
	AclDenied         AclStatus = "Denied"
	AclObsolete       AclStatus = "Obsolete"
	AclRemoved        AclStatus = "Removed"
)

func (s AclStatus) Valid() bool {
	switch s {
	case AclAwaitingReview, AclApproved, AclDenied, AclObsolete, AclRemoved:
		return true
	}
	return false
}

type Package struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name      string `gorm:"size:255;not null;uniqueIndex:idx_pkg_name_namespace"`
	Namespace string `gorm:"size:50;not null;default:'rpms';uniqueIndex:idx_pkg_name_namespace"`

	Summary     string `gorm:"size:255;not null"`
	Description string

	Status PackageStatus `gorm:"size:50;not null;default:'Approved'"`

	ReviewURL   string `gorm:"size:255"`
	UpstreamURL string `gorm:"size:255"`

	Monitor  bool `gorm:"not null;default:true"`
	Critpath bool `gorm:"not null;default:false"`

	CreatedAt time.Time

	Listings []PackageListing `gorm:"constraint:OnDelete:CASCADE"`
}

func (p *Package) FullName() string {
	return fmt.Sprintf("%v/%v", p.Namespace, p.Name)
}

type Collection struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name    string `gorm:"size:100;not null"`
	Version string `gorm:"size:50;not null"`

	// Branchname is the stable identifier every other part of the system
	// uses to refer to a collection.
	Branchname string `gorm:"size:100;not null;unique"`

	Status      CollectionStatus `gorm:"size:50;not null;default:'Under Development'"`
	AllowRetire bool             `gorm:"not null;default:false"`

	DistTag  string `gorm:"size:100"`
	KojiName string `gorm:"size:100"`

	CreatedAt time.Time
}

type PackageListing struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	PackageId    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_listing_pkg_collection"`
	CollectionId uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_listing_pkg_collection"`

	Package    *Package    `gorm:"constraint:OnDelete:CASCADE"`
	Collection *Collection `gorm:"constraint:OnDelete:CASCADE"`

	// PointOfContact is a username, a "group::<name>" token, or "orphan".
	PointOfContact string `gorm:"size:255;not null"`

	Status       ListingStatus `gorm:"size:50;not null;default:'Approved'"`
	Critpath     bool          `gorm:"not null;default:false"`
	StatusChange time.Time

	Acls []PackageListingAcl `gorm:"constraint:OnDelete:CASCADE"`
}

type PackageListingAcl struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	FasName          string    `gorm:"size:255;not null;uniqueIndex:idx_acl_fas_listing_kind"`
	PackageListingId uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_acl_fas_listing_kind"`
	Acl              AclKind   `gorm:"size:50;not null;uniqueIndex:idx_acl_fas_listing_kind"`

	PackageListing *PackageListing `gorm:"constraint:OnDelete:CASCADE"`

	Status AclStatus `gorm:"size:50;not null"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Log is the append-only audit trail. Rows are written inside the same
// transaction as the mutation they describe and never updated afterwards.
type Log struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Actor string `gorm:"size:255;not null"`

	PackageId *uuid.UUID `gorm:"type:uuid"`
	Package   *Package   `gorm:"constraint:OnDelete:SET NULL"`

	Topic   string `gorm:"size:100;not null"`
	Message string `gorm:"not null"`

	CreatedAt time.Time
}

// All lists every model for AutoMigrate and test setup.
func All() []interface{} {
	return []interface{}{
		&Package{}, &Collection{}, &PackageListing{}, &PackageListingAcl{}, &Log{},
	}
}
