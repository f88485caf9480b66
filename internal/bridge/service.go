// Package bridge exposes the closed set of operations consumed by
// external tooling: message retrieval and search, contact resolution
// with disambiguation, send planning/execution, and diagnostics.
// Every operation returns structured results or a tagged error; no
// code path propagates an unhandled fault.
package bridge

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Napageneral/msgbridge/imessage"
	"github.com/Napageneral/msgbridge/internal/config"
	"github.com/Napageneral/msgbridge/internal/contacts"
	"github.com/Napageneral/msgbridge/internal/errs"
	"github.com/Napageneral/msgbridge/internal/ratelimit"
	"github.com/Napageneral/msgbridge/internal/resolve"
	"github.com/Napageneral/msgbridge/internal/send"
)

// Service wires the store readers, resolver, and planner behind one
// synchronous request-per-call surface. Each operation opens its store
// connection read-only and releases it on every exit path.
type Service struct {
	cfg      *config.Config
	contacts *contacts.Store
	resolver *resolve.Resolver
	planner  *send.Planner
	log      *zap.Logger
}

// Option overrides a Service collaborator, mainly for tests.
type Option func(*Service)

// WithRunner substitutes the automation interpreter.
func WithRunner(r send.Runner) Option {
	return func(s *Service) {
		s.planner = send.NewPlanner(r, s.cfg.ProbeTimeout.Std(), ratelimit.NewPacer(s.cfg.SendRPM))
	}
}

// New creates a Service from configuration. A nil logger is silent.
func New(cfg *config.Config, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	store := contacts.NewStore(cfg.AddressBookDir, cfg.CacheTTL.Std(), nil)
	s := &Service{
		cfg:      cfg,
		contacts: store,
		resolver: resolve.New(store, nil),
		planner:  send.NewPlanner(nil, cfg.ProbeTimeout.Std(), ratelimit.NewPacer(cfg.SendRPM)),
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MessagesResult is the outcome of a recent-messages request. When the
// contact filter was ambiguous, Candidates and Token are set instead
// of Messages and the caller picks via "contact:N".
type MessagesResult struct {
	Messages   []imessage.Message  `json:"messages,omitempty"`
	Candidates []resolve.Candidate `json:"candidates,omitempty"`
	Token      string              `json:"token,omitempty"`
}

// validateHours applies the configured window ceiling before any
// store access.
func (s *Service) validateHours(hours int) error {
	if err := imessage.ValidateWindow(hours); err != nil {
		return err
	}
	if max := s.cfg.MaxWindowHours; max > 0 && hours > max {
		return errs.New(errs.Validation, "window hours %d exceeds configured maximum of %d", hours, max)
	}
	return nil
}

// RecentMessages returns messages from the last hours hours, oldest
// first. contact optionally filters by name, identifier, or a
// "contact:N" selection from a prior ambiguous resolution.
func (s *Service) RecentMessages(hours int, contact string) (*MessagesResult, error) {
	if err := s.validateHours(hours); err != nil {
		return nil, err
	}

	identifier := ""
	if trimmed := strings.TrimSpace(contact); trimmed != "" {
		id, _, res, err := s.resolveRecipient(trimmed)
		if err != nil {
			return nil, err
		}
		if res != nil {
			return &MessagesResult{Candidates: res.Candidates, Token: res.Token}, nil
		}
		identifier = id
	}

	db, err := imessage.OpenChatDB(s.cfg.ChatDBPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var handleID int64
	if identifier != "" {
		rowID, ok, err := db.FindHandle(identifier)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errs.New(errs.Validation, "no message history found with %q", contact)
		}
		handleID = rowID
	}

	msgs, err := db.RecentMessages(hours, handleID, s.cfg.ResultLimit)
	if err != nil {
		return nil, err
	}
	return &MessagesResult{Messages: msgs}, nil
}

// SearchMessages ranks windowed messages against term, best first.
func (s *Service) SearchMessages(term string, hours int, threshold float64) ([]imessage.ScoredMessage, error) {
	// Input validation happens before the store is opened.
	if strings.TrimSpace(term) == "" {
		return nil, errs.New(errs.Validation, "search term must not be empty")
	}
	if threshold < 0 || threshold > 1 {
		return nil, errs.New(errs.Validation, "threshold %g out of range [0, 1]", threshold)
	}
	if err := s.validateHours(hours); err != nil {
		return nil, err
	}

	db, err := imessage.OpenChatDB(s.cfg.ChatDBPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	return db.SearchMessages(term, hours, threshold, s.cfg.ResultLimit)
}

// Conversations lists chats with their participants.
func (s *Service) Conversations() ([]imessage.Conversation, error) {
	db, err := imessage.OpenChatDB(s.cfg.ChatDBPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	return db.Conversations()
}

// Contacts returns the cached contact set.
func (s *Service) Contacts() ([]contacts.Contact, error) {
	return s.contacts.All()
}

// FindByIdentifier looks a contact up by exact normalized identifier.
func (s *Service) FindByIdentifier(identifier string) (*contacts.Contact, error) {
	return s.contacts.FindByIdentifier(identifier)
}

// ResolveContact fuzzy-matches a name against contact display names.
func (s *Service) ResolveContact(name string, threshold float64) (*resolve.Resolution, error) {
	if threshold == 0 {
		threshold = resolve.DefaultThreshold
	}
	return s.resolver.Resolve(name, threshold)
}

// SelectContact picks a candidate from a prior ambiguous resolution.
func (s *Service) SelectContact(token string, index int) (*resolve.Candidate, error) {
	return s.resolver.Select(token, index)
}

// SendResult reports the outcome of a send request. Sent is false when
// the recipient was ambiguous; Candidates and Token then carry the
// choices.
type SendResult struct {
	Sent       bool                `json:"sent"`
	Channel    send.Channel        `json:"channel,omitempty"`
	Recipient  string              `json:"recipient,omitempty"`
	Name       string              `json:"name,omitempty"`
	Candidates []resolve.Candidate `json:"candidates,omitempty"`
	Token      string              `json:"token,omitempty"`
}

// Send delivers body to recipient. The recipient may be a phone
// number, an email, a contact name, or "contact:N" selecting from the
// latest ambiguous resolution. Channel choice falls back from iMessage
// to SMS per the availability probe. A failed send is reported, never
// retried.
func (s *Service) Send(ctx context.Context, recipient, body string) (*SendResult, error) {
	trimmed := strings.TrimSpace(recipient)
	if trimmed == "" {
		return nil, errs.New(errs.Validation, "send recipient must not be empty")
	}

	identifier, name, res, err := s.resolveRecipient(trimmed)
	if err != nil {
		return nil, err
	}
	if res != nil {
		return &SendResult{Candidates: res.Candidates, Token: res.Token}, nil
	}

	cmd, err := s.planner.Send(ctx, identifier, body)
	if err != nil {
		s.log.Warn("send failed",
			zap.String("recipient", identifier),
			zap.String("channel", string(cmd.Channel)),
			zap.Error(err))
		return nil, err
	}

	s.log.Info("message sent",
		zap.String("recipient", identifier),
		zap.String("channel", string(cmd.Channel)))
	return &SendResult{
		Sent:      true,
		Channel:   cmd.Channel,
		Recipient: identifier,
		Name:      name,
	}, nil
}

// resolveRecipient turns a contact filter into a single identifier
// plus display name. Returns a non-nil Resolution instead when the
// name was ambiguous.
func (s *Service) resolveRecipient(contact string) (identifier, name string, ambiguous *resolve.Resolution, err error) {
	if sel, ok, err := s.trySelection(contact); err != nil {
		return "", "", nil, err
	} else if ok {
		id := primaryIdentifier(sel.Contact)
		if id == "" {
			return "", "", nil, errs.New(errs.Validation, "contact %q has no addressable identifier", sel.Contact.Name)
		}
		return id, sel.Contact.Name, nil, nil
	}

	if imessage.LooksLikeIdentifier(contact) {
		id, _ := imessage.NormalizeIdentifier(contact)
		return id, "", nil, nil
	}

	res, err := s.resolver.Resolve(contact, resolve.DefaultThreshold)
	if err != nil {
		return "", "", nil, err
	}
	switch {
	case res.Match != nil:
		id := primaryIdentifier(res.Match.Contact)
		if id == "" {
			return "", "", nil, errs.New(errs.Validation, "contact %q has no addressable identifier", res.Match.Contact.Name)
		}
		return id, res.Match.Contact.Name, nil, nil
	case len(res.Candidates) > 0:
		return "", "", res, nil
	default:
		return "", "", nil, errs.New(errs.Validation, "no contact matching %q", contact)
	}
}

// trySelection parses the "contact:N" recipient form. ok is false when
// recipient is not a selection.
func (s *Service) trySelection(recipient string) (*resolve.Candidate, bool, error) {
	lower := strings.ToLower(recipient)
	if !strings.HasPrefix(lower, "contact:") {
		return nil, false, nil
	}
	raw := strings.TrimSpace(recipient[len("contact:"):])
	index, err := strconv.Atoi(raw)
	if err != nil {
		return nil, false, errs.New(errs.Validation, "invalid contact selection %q; use contact:N", recipient)
	}
	sel, err := s.resolver.Select("", index)
	if err != nil {
		return nil, false, err
	}
	return sel, true, nil
}

func primaryIdentifier(c contacts.Contact) string {
	if len(c.Identifiers) == 0 {
		return ""
	}
	return c.Identifiers[0].Value
}

// DoctorReport aggregates store reachability diagnostics.
type DoctorReport struct {
	ChatDB      imessage.AccessReport `json:"chat_db"`
	AddressBook imessage.AccessReport `json:"addressbook"`
}

// Doctor reports reachability and permission status for both stores.
func (s *Service) Doctor() DoctorReport {
	return DoctorReport{
		ChatDB:      imessage.CheckAccess(s.cfg.ChatDBPath),
		AddressBook: contacts.CheckAccess(s.cfg.AddressBookDir),
	}
}
