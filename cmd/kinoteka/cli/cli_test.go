package cli

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/kinoteka/kinoteka/internal/authz"
	"github.com/kinoteka/kinoteka/internal/shared"
	"github.com/kinoteka/kinoteka/jobs"
)

type memSeedStore struct {
	permissions map[string]int64
	roles       map[string]int64
	hierarchy   map[string]int
	grants      map[int64]map[int64]bool
	users       map[string]int64
	hashes      map[string]string
	userRole    map[string]int64
}

func newMemSeedStore() *memSeedStore {
	return &memSeedStore{
		permissions: map[string]int64{},
		roles:       map[string]int64{},
		hierarchy:   map[string]int{},
		grants:      map[int64]map[int64]bool{},
		users:       map[string]int64{},
		hashes:      map[string]string{},
		userRole:    map[string]int64{},
	}
}

func (m *memSeedStore) EnsurePermission(_ context.Context, name, _ string) (int64, error) {
	if id, ok := m.permissions[name]; ok {
		return id, nil
	}
	m.permissions[name] = int64(len(m.permissions) + 1)
	return m.permissions[name], nil
}

func (m *memSeedStore) EnsureRole(_ context.Context, name string, hierarchy int) (int64, error) {
	m.hierarchy[name] = hierarchy
	if id, ok := m.roles[name]; ok {
		return id, nil
	}
	m.roles[name] = int64(len(m.roles) + 1)
	return m.roles[name], nil
}

func (m *memSeedStore) GrantRole(_ context.Context, roleID int64, ids []int64) error {
	if m.grants[roleID] == nil {
		m.grants[roleID] = map[int64]bool{}
	}
	for _, id := range ids {
		m.grants[roleID][id] = true
	}
	return nil
}

func (m *memSeedStore) EnsureUser(_ context.Context, email, _, hash string, roleID int64) (int64, bool, error) {
	if id, ok := m.users[email]; ok {
		return id, false, nil
	}
	m.users[email] = int64(len(m.users) + 1)
	m.hashes[email] = hash
	m.userRole[email] = roleID
	return m.users[email], true, nil
}

func TestSeedCreatesTiersCatalogAndSuperAdmin(t *testing.T) {
	store := newMemSeedStore()
	seeder, err := NewSeeder(store)
	require.NoError(t, err)
	seeder.cost = bcrypt.MinCost

	out := new(bytes.Buffer)
	opts := SeedOptions{AdminEmail: " Root@Kinoteka.test ", AdminPassword: "changeme123", Stdout: out}
	require.Equal(t, 0, seeder.SeedCommand(context.Background(), opts))

	assert.Len(t, store.permissions, len(shared.CoreScopes()))
	for _, tier := range authz.Tiers() {
		assert.Equal(t, tier.Level(), store.hierarchy[tier.Name()])
	}
	superAdmin := store.roles[authz.TierSuperAdmin.Name()]
	assert.Equal(t, superAdmin, store.userRole["root@kinoteka.test"])
	assert.Len(t, store.grants[superAdmin], len(shared.ScopesForTier(100)))
	assert.Len(t, store.grants[store.roles[authz.TierMember.Name()]], 1)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(store.hashes["root@kinoteka.test"]), []byte("changeme123")))
	assert.Contains(t, out.String(), "created super admin")

	out.Reset()
	require.Equal(t, 0, seeder.SeedCommand(context.Background(), opts))
	assert.Contains(t, out.String(), "already exists")
	assert.Len(t, store.users, 1)
}

func TestSeedRejectsWeakBootstrapPassword(t *testing.T) {
	seeder, err := NewSeeder(newMemSeedStore())
	require.NoError(t, err)

	stderr := new(bytes.Buffer)
	code := seeder.SeedCommand(context.Background(), SeedOptions{AdminEmail: "root@kinoteka.test", AdminPassword: "short", Stdout: new(bytes.Buffer), Stderr: stderr})
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "at least 8 characters")
}

type stubInspector map[string]*asynq.QueueInfo

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if info, ok := s[queue]; ok {
		return info, nil
	}
	return nil, fmt.Errorf("asynq: %w", asynq.ErrQueueNotFound)
}

func TestInspectCommand(t *testing.T) {
	c := &JobsCLI{inspector: stubInspector{jobs.QueueAudit: {Queue: jobs.QueueAudit, Pending: 4}}}
	out := new(bytes.Buffer)
	assert.Equal(t, 0, c.InspectCommand(out, new(bytes.Buffer)))
	assert.True(t, strings.HasPrefix(out.String(), "QUEUE"))
	assert.Contains(t, out.String(), jobs.QueueDefault)

	c = &JobsCLI{inspector: stubInspector{jobs.QueueAudit: {Queue: jobs.QueueAudit, Archived: 2}}}
	assert.Equal(t, 10, c.InspectCommand(new(bytes.Buffer), new(bytes.Buffer)))
}
