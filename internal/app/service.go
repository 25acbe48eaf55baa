package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/pbzweihander/contcont/internal/config"
	"github.com/pbzweihander/contcont/internal/fediverse"
	"github.com/pbzweihander/contcont/internal/session"
	"github.com/pbzweihander/contcont/internal/store"
)

const (
	maxTitleChars = 100
	maxTextChars  = 5000
	maxArtBytes   = 1000 * 1000 * 10
)

type dataStore interface {
	Ping(context.Context) error
	GetInstance(context.Context, string) (store.Instance, error)
	GetInstanceByClientID(context.Context, string) (store.Instance, error)
	EnsureInstance(context.Context, store.Instance) (store.Instance, error)
	InsertLiterature(context.Context, store.Literature) (store.Literature, error)
	GetLiterature(context.Context, int64) (store.Literature, error)
	ListLiteratureMetadata(context.Context) ([]store.LiteratureMetadata, error)
	InsertArt(context.Context, store.Art) (store.Art, error)
	GetArtMetadata(context.Context, int64) (store.ArtMetadata, error)
	GetArtData(context.Context, int64) ([]byte, error)
	ListArtMetadata(context.Context) ([]store.ArtMetadata, error)
	CastLiteratureVote(ctx context.Context, handle, instance string, entryID int64, maxVotes int) error
	CastArtVote(ctx context.Context, handle, instance string, entryID int64, maxVotes int) error
	LiteratureVoteStatus(ctx context.Context, handle, instance string, entryID int64) (store.VoteStatus, error)
	ArtVoteStatus(ctx context.Context, handle, instance string, entryID int64) (store.VoteStatus, error)
	TallyLiterature(context.Context) ([]store.TalliedLiterature, error)
	TallyArt(context.Context) ([]store.TalliedArt, error)
}

type federation interface {
	DetectFamily(ctx context.Context, hostname string) (fediverse.Family, error)
	RegisterApp(ctx context.Context, hostname string, family fediverse.Family) (store.Instance, error)
	Driver(family fediverse.Family) fediverse.Driver
}

type announcer interface {
	Enabled() bool
	Announce(ctx context.Context, text string) error
}

type Service struct {
	cfg       config.Config
	store     dataStore
	fed       federation
	announcer announcer
	issuer    *session.Issuer
	windows   ContestWindows
	now       func() time.Time
}

func New(cfg config.Config, dataStore *store.PostgresStore, fed *fediverse.Client, ann *fediverse.Announcer, issuer *session.Issuer) *Service {
	return &Service{
		cfg:       cfg,
		store:     dataStore,
		fed:       fed,
		announcer: ann,
		issuer:    issuer,
		windows: ContestWindows{
			Submission: Window{OpenAt: cfg.SubmissionOpenAt, CloseAt: cfg.SubmissionCloseAt},
			Voting:     Window{OpenAt: cfg.VotingOpenAt, CloseAt: cfg.VotingCloseAt},
		},
		now: time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) ContestName() string {
	return s.cfg.ContestName
}

func (s *Service) EnabledCategories() map[string]bool {
	return map[string]bool{
		"literature": s.cfg.LiteratureEnabled,
		"art":        s.cfg.ArtEnabled,
	}
}

func (s *Service) Windows() ContestWindows {
	return s.windows
}

// PhaseStatus reports whether a window is currently open, for clients that
// want to grey out the form without doing the date math themselves.
type PhaseStatus struct {
	Opened  bool      `json:"opened"`
	OpenAt  time.Time `json:"openAt"`
	CloseAt time.Time `json:"closeAt"`
}

func (s *Service) SubmissionStatus() PhaseStatus {
	w := s.windows.Submission
	return PhaseStatus{Opened: w.Contains(s.now()), OpenAt: w.OpenAt, CloseAt: w.CloseAt}
}

func (s *Service) VotingStatus() PhaseStatus {
	w := s.windows.Voting
	return PhaseStatus{Opened: w.Contains(s.now()), OpenAt: w.OpenAt, CloseAt: w.CloseAt}
}

// ResultsStatus reuses OpenAt for the instant results unlock; results never
// close, so CloseAt stays zero.
func (s *Service) ResultsStatus() PhaseStatus {
	return PhaseStatus{Opened: s.windows.ResultsOpen(s.now()), OpenAt: s.windows.Voting.CloseAt}
}

// ── login ──

// BeginLogin resolves the user's home instance, registering this application
// with it on first contact, and returns the URL to send the user to plus the
// login-state token that must come back on the callback.
func (s *Service) BeginLogin(ctx context.Context, account string) (redirectURL, loginState string, err error) {
	hostname := fediverse.ParseAccount(account)
	if hostname == "" {
		return "", "", validationError("instance hostname is required")
	}

	family, err := s.fed.DetectFamily(ctx, hostname)
	if err != nil {
		if errors.Is(err, fediverse.ErrNotDetected) {
			return "", "", notDetectedError(hostname)
		}
		return "", "", err
	}

	inst, err := s.store.GetInstance(ctx, hostname)
	if errors.Is(err, store.ErrNotFound) {
		registered, regErr := s.fed.RegisterApp(ctx, hostname, family)
		if regErr != nil {
			return "", "", upstreamError("could not register with "+hostname)
		}
		inst, err = s.store.EnsureInstance(ctx, registered)
	}
	if err != nil {
		return "", "", err
	}

	redirectURL, loginState, err = s.fed.Driver(family).BeginAuth(ctx, inst)
	if err != nil {
		return "", "", upstreamError("could not start login with "+hostname)
	}
	return redirectURL, loginState, nil
}

// CompleteLogin exchanges the callback for a verified identity and mints a
// session credential. The login-state token is the only link back to the
// pending login; anything that does not check out is a plain 401.
func (s *Service) CompleteLogin(ctx context.Context, cb fediverse.Callback, loginState string) (credential string, identity session.Identity, err error) {
	family, clientID, ok := fediverse.SplitLoginState(loginState)
	if !ok {
		return "", session.Identity{}, unauthorizedError()
	}

	inst, err := s.store.GetInstanceByClientID(ctx, clientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", session.Identity{}, unauthorizedError()
		}
		return "", session.Identity{}, err
	}

	handle, err := s.fed.Driver(family).CompleteAuth(ctx, inst, cb, loginState)
	if err != nil {
		if errors.Is(err, fediverse.ErrStateMismatch) || errors.Is(err, fediverse.ErrTokenMissing) {
			return "", session.Identity{}, unauthorizedError()
		}
		return "", session.Identity{}, upstreamError("could not complete login with "+inst.Hostname)
	}

	identity = session.Identity{Handle: handle, Instance: inst.Hostname}
	credential, err = s.issuer.Issue(identity, s.now())
	if err != nil {
		return "", session.Identity{}, err
	}
	return credential, identity, nil
}

func (s *Service) Authenticate(credential string) (session.Identity, error) {
	return s.issuer.Verify(credential, s.now())
}

// ── literature ──

func (s *Service) SubmitLiterature(ctx context.Context, author session.Identity, title, text string, isNsfw bool) (store.Literature, error) {
	if err := s.requireLiterature(); err != nil {
		return store.Literature{}, err
	}
	if err := validateTitle(title); err != nil {
		return store.Literature{}, err
	}
	if text == "" {
		return store.Literature{}, validationError("text is required")
	}
	if utf8.RuneCountInString(text) > maxTextChars {
		return store.Literature{}, validationError(fmt.Sprintf("text must be at most %d characters", maxTextChars))
	}
	if !s.windows.Submission.Contains(s.now()) {
		return store.Literature{}, closedError("SUBMISSION_CLOSED", "submissions are not open")
	}

	item, err := s.store.InsertLiterature(ctx, store.Literature{
		Title:          title,
		Text:           text,
		IsNsfw:         isNsfw,
		AuthorHandle:   author.Handle,
		AuthorInstance: author.Instance,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return store.Literature{}, conflictError("ALREADY_SUBMITTED", "you already submitted a literature entry")
		}
		return store.Literature{}, err
	}

	s.announce(ctx, fmt.Sprintf("A new literature entry has arrived!\n%s\n%s/literature/%d", item.Title, s.cfg.BaseURL, item.ID))
	return item, nil
}

func (s *Service) GetLiterature(ctx context.Context, id int64) (store.Literature, error) {
	if err := s.requireLiterature(); err != nil {
		return store.Literature{}, err
	}
	return s.store.GetLiterature(ctx, id)
}

// ListLiterature returns entry listings in an order fixed per viewer. An
// anonymous viewer gets newest first.
func (s *Service) ListLiterature(ctx context.Context, viewer *session.Identity) ([]store.LiteratureMetadata, error) {
	if err := s.requireLiterature(); err != nil {
		return nil, err
	}
	items, err := s.store.ListLiteratureMetadata(ctx)
	if err != nil {
		return nil, err
	}
	if viewer != nil {
		shuffleForViewer(items, *viewer)
	}
	return items, nil
}

func (s *Service) VoteLiterature(ctx context.Context, voter session.Identity, entryID int64) error {
	if err := s.requireLiterature(); err != nil {
		return err
	}
	if !s.windows.Voting.Contains(s.now()) {
		return closedError("VOTING_CLOSED", "voting is not open")
	}
	return s.mapVoteError(s.store.CastLiteratureVote(ctx, voter.Handle, voter.Instance, entryID, s.cfg.MaxVotesPerVoter))
}

func (s *Service) LiteratureVoteStatus(ctx context.Context, voter session.Identity, entryID int64) (store.VoteStatus, error) {
	if err := s.requireLiterature(); err != nil {
		return store.VoteStatus{}, err
	}
	return s.store.LiteratureVoteStatus(ctx, voter.Handle, voter.Instance, entryID)
}

func (s *Service) LiteratureResults(ctx context.Context) ([]store.TalliedLiterature, error) {
	if err := s.requireLiterature(); err != nil {
		return nil, err
	}
	if err := s.requireResultsOpen(); err != nil {
		return nil, err
	}
	return s.store.TallyLiterature(ctx)
}

// ── art ──

func (s *Service) SubmitArt(ctx context.Context, author session.Identity, title, description string, isNsfw bool, data []byte) (store.Art, error) {
	if err := s.requireArt(); err != nil {
		return store.Art{}, err
	}
	if err := validateTitle(title); err != nil {
		return store.Art{}, err
	}
	if len(data) == 0 {
		return store.Art{}, validationError("image data is required")
	}
	if len(data) > maxArtBytes {
		return store.Art{}, tooLargeError(fmt.Sprintf("image must be at most %d bytes", maxArtBytes))
	}
	if !s.windows.Submission.Contains(s.now()) {
		return store.Art{}, closedError("SUBMISSION_CLOSED", "submissions are not open")
	}

	item, err := s.store.InsertArt(ctx, store.Art{
		Title:          title,
		Description:    description,
		IsNsfw:         isNsfw,
		Data:           data,
		AuthorHandle:   author.Handle,
		AuthorInstance: author.Instance,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return store.Art{}, conflictError("ALREADY_SUBMITTED", "you already submitted an art entry")
		}
		return store.Art{}, err
	}

	s.announce(ctx, fmt.Sprintf("A new art entry has arrived!\n%s\n%s/art/%d", item.Title, s.cfg.BaseURL, item.ID))
	return item, nil
}

func (s *Service) GetArtMetadata(ctx context.Context, id int64) (store.ArtMetadata, error) {
	if err := s.requireArt(); err != nil {
		return store.ArtMetadata{}, err
	}
	return s.store.GetArtMetadata(ctx, id)
}

func (s *Service) GetArtData(ctx context.Context, id int64) ([]byte, error) {
	if err := s.requireArt(); err != nil {
		return nil, err
	}
	return s.store.GetArtData(ctx, id)
}

func (s *Service) ListArt(ctx context.Context, viewer *session.Identity) ([]store.ArtMetadata, error) {
	if err := s.requireArt(); err != nil {
		return nil, err
	}
	items, err := s.store.ListArtMetadata(ctx)
	if err != nil {
		return nil, err
	}
	if viewer != nil {
		shuffleForViewer(items, *viewer)
	}
	return items, nil
}

func (s *Service) VoteArt(ctx context.Context, voter session.Identity, entryID int64) error {
	if err := s.requireArt(); err != nil {
		return err
	}
	if !s.windows.Voting.Contains(s.now()) {
		return closedError("VOTING_CLOSED", "voting is not open")
	}
	return s.mapVoteError(s.store.CastArtVote(ctx, voter.Handle, voter.Instance, entryID, s.cfg.MaxVotesPerVoter))
}

func (s *Service) ArtVoteStatus(ctx context.Context, voter session.Identity, entryID int64) (store.VoteStatus, error) {
	if err := s.requireArt(); err != nil {
		return store.VoteStatus{}, err
	}
	return s.store.ArtVoteStatus(ctx, voter.Handle, voter.Instance, entryID)
}

func (s *Service) ArtResults(ctx context.Context) ([]store.TalliedArt, error) {
	if err := s.requireArt(); err != nil {
		return nil, err
	}
	if err := s.requireResultsOpen(); err != nil {
		return nil, err
	}
	return s.store.TallyArt(ctx)
}

// ── helpers ──

func (s *Service) requireLiterature() error {
	if !s.cfg.LiteratureEnabled {
		return notFoundError("literature contest is not held")
	}
	return nil
}

func (s *Service) requireArt() error {
	if !s.cfg.ArtEnabled {
		return notFoundError("art contest is not held")
	}
	return nil
}

func (s *Service) requireResultsOpen() error {
	if !s.windows.ResultsOpen(s.now()) {
		return closedError("RESULTS_NOT_OPEN", "results open after voting closes")
	}
	return nil
}

func (s *Service) mapVoteError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrVoteLimit):
		return conflictError("VOTE_LIMIT_REACHED", fmt.Sprintf("you can vote at most %d times", s.cfg.MaxVotesPerVoter))
	case errors.Is(err, store.ErrConflict):
		return conflictError("ALREADY_VOTED", "you already voted for this entry")
	default:
		return err
	}
}

// announce is best effort. A submission never fails because the announcement
// account is down.
func (s *Service) announce(ctx context.Context, text string) {
	if s.announcer == nil || !s.announcer.Enabled() {
		return
	}
	if err := s.announcer.Announce(ctx, text); err != nil {
		slog.Warn("announcement failed", "error", err)
	}
}

func validateTitle(title string) error {
	if title == "" {
		return validationError("title is required")
	}
	if utf8.RuneCountInString(title) > maxTitleChars {
		return validationError(fmt.Sprintf("title must be at most %d characters", maxTitleChars))
	}
	return nil
}
