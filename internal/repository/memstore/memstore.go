// Package memstore provides in-memory repository implementations for tests
// and local development.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/smallbiznis/guildauth/internal/domain"
	"github.com/smallbiznis/guildauth/internal/repository"
)

var (
	_ repository.UserStore            = (*Users)(nil)
	_ repository.TokenStore           = (*Users)(nil)
	_ repository.GuildMembershipStore = (*Memberships)(nil)
	_ repository.GuildStore           = (*Guilds)(nil)
	_ repository.SettingsStore        = (*Settings)(nil)
	_ repository.LeagueStore          = (*Leagues)(nil)
	_ repository.OrganizationStore    = (*Organizations)(nil)
	_ repository.TrackerStore         = (*Trackers)(nil)
	_ repository.AuditSink            = (*AuditLog)(nil)
)

type userRow struct {
	user   domain.User
	tokens domain.TokenRecord
}

// Users implements UserStore and TokenStore.
type Users struct {
	mu   sync.Mutex
	rows map[string]*userRow
	// SaveErr, when set, is returned by SaveTokens and ClearTokens.
	SaveErr error
}

func NewUsers() *Users {
	return &Users{rows: make(map[string]*userRow)}
}

func (s *Users) Exists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[id]
	return ok, nil
}

func (s *Users) Create(_ context.Context, user domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := s.rows[user.ID]; ok {
		user.CreatedAt = existing.user.CreatedAt
		user.UpdatedAt = now
		existing.user = user
		return nil
	}
	user.CreatedAt, user.UpdatedAt = now, now
	s.rows[user.ID] = &userRow{user: user}
	return nil
}

func (s *Users) Update(_ context.Context, id string, patch domain.UserPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("update user: %w", domain.ErrNotFound)
	}
	row.user.Username = patch.Username
	row.user.GlobalName = patch.GlobalName
	row.user.Avatar = patch.Avatar
	row.user.Email = patch.Email
	row.user.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Users) FindOne(_ context.Context, id string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return domain.User{}, fmt.Errorf("find user: %w", domain.ErrNotFound)
	}
	return row.user, nil
}

func (s *Users) GetTokens(_ context.Context, userID string) (domain.TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[userID]
	if !ok {
		return domain.TokenRecord{}, fmt.Errorf("get tokens: %w", domain.ErrNotFound)
	}
	return row.tokens, nil
}

func (s *Users) SaveTokens(_ context.Context, userID string, record domain.TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	row, ok := s.rows[userID]
	if !ok {
		return fmt.Errorf("save tokens: %w", domain.ErrNotFound)
	}
	row.tokens = record
	return nil
}

func (s *Users) ClearTokens(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	if row, ok := s.rows[userID]; ok {
		row.tokens = domain.TokenRecord{UpdatedAt: time.Now().UTC()}
	}
	return nil
}

type membershipKey struct {
	userID  string
	guildID string
}

// Memberships implements GuildMembershipStore.
type Memberships struct {
	mu      sync.Mutex
	rows    map[membershipKey]domain.GuildMembership
	upserts int
	// Err, when set, is returned by every method.
	Err error
}

func NewMemberships(seed ...domain.GuildMembership) *Memberships {
	s := &Memberships{rows: make(map[membershipKey]domain.GuildMembership)}
	for _, m := range seed {
		s.rows[membershipKey{m.UserID, m.GuildID}] = m
	}
	return s
}

// Upserts counts successful Upsert and UpsertMany rows.
func (s *Memberships) Upserts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}

func (s *Memberships) FindOne(_ context.Context, userID, guildID string) (domain.GuildMembership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return domain.GuildMembership{}, s.Err
	}
	m, ok := s.rows[membershipKey{userID, guildID}]
	if !ok {
		return domain.GuildMembership{}, fmt.Errorf("find membership: %w", domain.ErrNotFound)
	}
	return m, nil
}

func (s *Memberships) FindByUser(_ context.Context, userID string) ([]domain.GuildMembership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []domain.GuildMembership
	for key, m := range s.rows {
		if key.userID == userID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GuildID < out[j].GuildID })
	return out, nil
}

func (s *Memberships) Upsert(_ context.Context, m domain.GuildMembership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.put(m)
	return nil
}

func (s *Memberships) UpsertMany(_ context.Context, memberships []domain.GuildMembership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for _, m := range memberships {
		s.put(m)
	}
	return nil
}

func (s *Memberships) DeleteMany(_ context.Context, userID string, guildIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for _, guildID := range guildIDs {
		delete(s.rows, membershipKey{userID, guildID})
	}
	return nil
}

// put must be called with mu held.
func (s *Memberships) put(m domain.GuildMembership) {
	key := membershipKey{m.UserID, m.GuildID}
	if existing, ok := s.rows[key]; ok {
		m.JoinedAt = existing.JoinedAt
	} else if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now().UTC()
	}
	if m.Roles == nil {
		m.Roles = []string{}
	}
	s.rows[key] = m
	s.upserts++
}

// Guilds implements GuildStore.
type Guilds struct {
	mu      sync.Mutex
	rows    map[string]domain.Guild
	idCalls int
}

func NewGuilds(seed ...domain.Guild) *Guilds {
	s := &Guilds{rows: make(map[string]domain.Guild)}
	for _, g := range seed {
		s.rows[g.ID] = g
	}
	return s
}

// ActiveIDCalls counts FindActiveGuildIDs calls.
func (s *Guilds) ActiveIDCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idCalls
}

func (s *Guilds) Exists(_ context.Context, guildID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[guildID]
	return ok, nil
}

func (s *Guilds) FindOne(_ context.Context, guildID string) (domain.Guild, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.rows[guildID]
	if !ok {
		return domain.Guild{}, fmt.Errorf("find guild: %w", domain.ErrNotFound)
	}
	return g, nil
}

func (s *Guilds) FindActiveGuildIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idCalls++
	ids := make([]string, 0, len(s.rows))
	for id, g := range s.rows {
		if g.Active {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Guilds) List(_ context.Context) ([]domain.Guild, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Guild, 0, len(s.rows))
	for _, g := range s.rows {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type settingsKey struct {
	ownerType string
	ownerID   string
}

// Settings implements SettingsStore.
type Settings struct {
	mu   sync.Mutex
	rows map[settingsKey][]byte
}

func NewSettings() *Settings {
	return &Settings{rows: make(map[settingsKey][]byte)}
}

// Put seeds a raw blob.
func (s *Settings) Put(ownerType, ownerID string, blob []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[settingsKey{ownerType, ownerID}] = blob
}

func (s *Settings) GetSettings(_ context.Context, ownerType, ownerID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.rows[settingsKey{ownerType, ownerID}]
	if !ok {
		return nil, fmt.Errorf("get settings: %w", domain.ErrNotFound)
	}
	return blob, nil
}

func (s *Settings) UpsertSettings(_ context.Context, ownerType, ownerID string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[settingsKey{ownerType, ownerID}] = append([]byte(nil), blob...)
	return nil
}

// Leagues implements LeagueStore.
type Leagues struct {
	rows map[string]domain.League
}

func NewLeagues(seed ...domain.League) *Leagues {
	s := &Leagues{rows: make(map[string]domain.League)}
	for _, l := range seed {
		s.rows[l.ID] = l
	}
	return s
}

func (s *Leagues) FindOne(_ context.Context, id string) (domain.League, error) {
	l, ok := s.rows[id]
	if !ok {
		return domain.League{}, fmt.Errorf("find league: %w", domain.ErrNotFound)
	}
	return l, nil
}

// Organizations implements OrganizationStore.
type Organizations struct {
	rows map[string]domain.Organization
}

func NewOrganizations(seed ...domain.Organization) *Organizations {
	s := &Organizations{rows: make(map[string]domain.Organization)}
	for _, o := range seed {
		s.rows[o.ID] = o
	}
	return s
}

func (s *Organizations) FindOne(_ context.Context, id string) (domain.Organization, error) {
	o, ok := s.rows[id]
	if !ok {
		return domain.Organization{}, fmt.Errorf("find organization: %w", domain.ErrNotFound)
	}
	return o, nil
}

// Trackers implements TrackerStore.
type Trackers struct {
	rows map[string]domain.Tracker
}

func NewTrackers(seed ...domain.Tracker) *Trackers {
	s := &Trackers{rows: make(map[string]domain.Tracker)}
	for _, t := range seed {
		s.rows[t.ID] = t
	}
	return s
}

func (s *Trackers) FindOne(_ context.Context, id string) (domain.Tracker, error) {
	t, ok := s.rows[id]
	if !ok {
		return domain.Tracker{}, fmt.Errorf("find tracker: %w", domain.ErrNotFound)
	}
	return t, nil
}

// AuditLog implements AuditSink by collecting records.
type AuditLog struct {
	mu      sync.Mutex
	records []domain.AuditRecord
}

func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

func (s *AuditLog) LogAdminAction(_ context.Context, record domain.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

// Records returns a copy of the collected records.
func (s *AuditLog) Records() []domain.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AuditRecord(nil), s.records...)
}

// Last returns the most recent record.
func (s *AuditLog) Last() (domain.AuditRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) == 0 {
		return domain.AuditRecord{}, false
	}
	return s.records[len(s.records)-1], true
}
