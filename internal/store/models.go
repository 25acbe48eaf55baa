package store

// Instance holds the application credentials registered with one remote
// fediverse server. Rows are written once and never updated.
type Instance struct {
	Hostname     string
	ClientID     string
	ClientSecret string
}

type Literature struct {
	ID             int64  `json:"id"`
	Title          string `json:"title"`
	Text           string `json:"text"`
	IsNsfw         bool   `json:"isNsfw"`
	AuthorHandle   string `json:"authorHandle"`
	AuthorInstance string `json:"authorInstance"`
}

// LiteratureMetadata is Literature without the body text, for listings.
type LiteratureMetadata struct {
	ID             int64  `json:"id"`
	Title          string `json:"title"`
	IsNsfw         bool   `json:"isNsfw"`
	AuthorHandle   string `json:"authorHandle"`
	AuthorInstance string `json:"authorInstance"`
}

type Art struct {
	ID             int64
	Title          string
	Description    string
	IsNsfw         bool
	Data           []byte
	AuthorHandle   string
	AuthorInstance string
}

type ArtMetadata struct {
	ID             int64  `json:"id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	IsNsfw         bool   `json:"isNsfw"`
	AuthorHandle   string `json:"authorHandle"`
	AuthorInstance string `json:"authorInstance"`
}

type TalliedLiterature struct {
	LiteratureMetadata
	VoteCount int64 `json:"voteCount"`
}

type TalliedArt struct {
	ArtMetadata
	VoteCount int64 `json:"voteCount"`
}

// VoteStatus reports whether an identity voted for a specific entry and how
// many votes it has cast in the category overall.
type VoteStatus struct {
	Voted      bool
	TotalVotes int64
}
