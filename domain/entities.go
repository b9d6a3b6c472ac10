package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubjectType tags which table a vote or favourite points into.
type SubjectType string

const (
	SubjectEntry        SubjectType = "entry"
	SubjectPost         SubjectType = "post"
	SubjectEntryComment SubjectType = "entry_comment"
	SubjectPostComment  SubjectType = "post_comment"
)

// Magazine is a sub-community. The counter fields are denormalized and owned
// by the event listeners in the events package.
type Magazine struct {
	Id                uuid.UUID
	Name              string
	Title             string
	ApID              string // empty for local magazines
	PublicKeyPem      string
	PrivateKeyPem     string // local magazines only, signs Accept activities
	EntryCount        int
	EntryCommentCount int
	PostCount         int
	PostCommentCount  int
	CreatedAt         time.Time
}

func (m *Magazine) IsLocal() bool { return m.ApID == "" }

// User covers both local accounts and cached remote actors. Remote users are
// identified by their actor IRI in ApID.
type User struct {
	Id            uuid.UUID
	Username      string
	Domain        string // empty for local users
	ApID          string
	InboxURI      string
	PublicKeyPem  string
	PrivateKeyPem string // local users only
	LastFetchedAt time.Time
	CreatedAt     time.Time
}

func (u *User) IsLocal() bool { return u.ApID == "" }

// Entry is a link or article submitted to a magazine.
type Entry struct {
	Id             uuid.UUID
	MagazineId     uuid.UUID
	UserId         uuid.UUID
	Title          string
	Url            string
	Body           string
	ApID           string // empty for local entries
	CommentCount   int
	FavouriteCount int
	Score          int
	HasEmbed       bool
	EmbedURL       string
	ImageURL       string
	IsDeleted      bool
	CreatedAt      time.Time
	EditedAt       *time.Time
}

// Post is a short microblog-style publication in a magazine.
type Post struct {
	Id             uuid.UUID
	MagazineId     uuid.UUID
	UserId         uuid.UUID
	Body           string
	ApID           string
	CommentCount   int
	FavouriteCount int
	Score          int
	IsDeleted      bool
	CreatedAt      time.Time
	EditedAt       *time.Time
}

// EntryComment is a threaded comment under an entry.
type EntryComment struct {
	Id        uuid.UUID
	EntryId   uuid.UUID
	UserId    uuid.UUID
	ParentId  *uuid.UUID
	Body      string
	ApID      string
	IsDeleted bool
	CreatedAt time.Time
	EditedAt  *time.Time
}

// PostComment is a comment under a post.
type PostComment struct {
	Id        uuid.UUID
	PostId    uuid.UUID
	UserId    uuid.UUID
	ParentId  *uuid.UUID
	Body      string
	ApID      string
	IsDeleted bool
	CreatedAt time.Time
	EditedAt  *time.Time
}

// Vote is an up/down mark on a subject. Announce federates as +1, Dislike
// as -1. Score is always recomputed from the sum, never trusted in place.
type Vote struct {
	Id          uuid.UUID
	UserId      uuid.UUID
	SubjectType SubjectType
	SubjectId   uuid.UUID
	Choice      int // +1 or -1
	ApID        string // IRI of the activity that produced the vote
	CreatedAt   time.Time
}

// Favourite is a Like on a subject.
type Favourite struct {
	Id          uuid.UUID
	UserId      uuid.UUID
	SubjectType SubjectType
	SubjectId   uuid.UUID
	ApID        string
	CreatedAt   time.Time
}

// Follow is a follow relationship from a (possibly remote) user to a local
// user or magazine.
type Follow struct {
	Id         uuid.UUID
	FollowerId uuid.UUID
	TargetType SubjectTarget
	TargetId   uuid.UUID
	ApID       string // IRI of the Follow activity
	Accepted   bool
	CreatedAt  time.Time
}

// SubjectTarget tags what a follow points at.
type SubjectTarget string

const (
	TargetUser     SubjectTarget = "user"
	TargetMagazine SubjectTarget = "magazine"
)
