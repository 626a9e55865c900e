package marlin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type user struct {
	Tracked

	ID    primitive.ObjectID `odm:"id"`
	Email string             `odm:"field=email,unique,required,validate=email"`
	Name  string             `odm:"field=name,required"`
	Plan  string             `odm:"field=plan"`
}

func (u *user) ScopeOnPlan(plan string) Document {
	return Document{"plan": plan}
}

type auditLog struct {
	Tracked

	ID     primitive.ObjectID `odm:"id"`
	Action string             `odm:"field=action"`
}

type auditor struct {
	actions []string
}

func (a *auditor) Saved(obj any) {
	if u, ok := obj.(*user); ok {
		a.actions = append(a.actions, "saved "+u.Email)
	}
}

func newTestSession(t *testing.T) (*Session, *MemoryTransport) {
	t.Helper()
	mem := NewMemoryTransport()
	s := NewSession(mem)
	s.Register(&user{}, &auditLog{})
	return s, mem
}

func TestSessionLifecycle(t *testing.T) {
	s, mem := newTestSession(t)
	ctx := context.Background()

	u := &user{Email: "ada@example.com", Name: "Ada", Plan: "pro"}
	require.NoError(t, s.Mapper.Save(ctx, u))
	require.False(t, u.ID.IsZero())

	// First access declared the unique index through the transport.
	idx := mem.Indexes("users")
	require.Len(t, idx, 1)
	assert.Equal(t, "unique_email_asc", idx[0].Name)
	assert.True(t, idx[0].Unique)

	u.Plan = "free"
	require.NoError(t, s.Mapper.Save(ctx, u))

	obj, err := s.Mapper.First(ctx, "user", u.ID)
	require.NoError(t, err)
	loaded, ok := obj.(*user)
	require.True(t, ok)
	assert.Equal(t, "free", loaded.Plan)
	assert.Equal(t, "ada@example.com", loaded.Email)
}

func TestSessionBackgroundIndexDefault(t *testing.T) {
	mem := NewMemoryTransport()
	s := NewSession(mem, WithBackgroundIndexes(true))
	s.Register(&user{})

	_, err := s.Schema(&user{})
	require.NoError(t, err)

	idx := mem.Indexes("users")
	require.Len(t, idx, 1)
	assert.True(t, idx[0].Background,
		"the session default applies when the annotation does not ask for background")

	// Without the default, the annotation alone decides.
	mem2 := NewMemoryTransport()
	s2 := NewSession(mem2)
	s2.Register(&user{})
	_, err = s2.Schema(&user{})
	require.NoError(t, err)
	assert.False(t, mem2.Indexes("users")[0].Background)
}

func TestSessionValidation(t *testing.T) {
	s, mem := newTestSession(t)

	err := s.Mapper.Save(context.Background(), &user{Email: "nope", Name: "x"})
	require.Error(t, err, "a malformed address fails the email predicate")
	assert.Empty(t, mem.Documents("users"))
}

func TestSessionScopedFind(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	require.NoError(t, s.Mapper.Save(ctx, &user{Email: "a@example.com", Name: "a", Plan: "pro"}))
	require.NoError(t, s.Mapper.Save(ctx, &user{Email: "b@example.com", Name: "b", Plan: "free"}))

	filter, err := s.Mapper.Scoped("user", "onPlan", "pro")
	require.NoError(t, err)

	out, err := s.Mapper.Find(ctx, "user", filter)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a@example.com", out[0].(*user).Email)
}

func TestSessionObserve(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	a := &auditor{}
	require.NoError(t, s.Observe("user", a))

	require.NoError(t, s.Mapper.Save(ctx, &user{Email: "ada@example.com", Name: "Ada"}))
	assert.Equal(t, []string{"saved ada@example.com"}, a.actions)
}

func TestSessionSchema(t *testing.T) {
	s, _ := newTestSession(t)

	def, err := s.Schema(&user{})
	require.NoError(t, err)
	assert.Equal(t, "users", def.CollectionName)
	assert.Equal(t, "ID", def.IDPropertyKey)

	def2, err := s.Schema(&user{})
	require.NoError(t, err)
	assert.Same(t, def, def2, "definitions are cached per session")
}

func TestReferencesAcrossCollections(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	type profile struct {
		Tracked
		ID    primitive.ObjectID `odm:"id"`
		Bio   string             `odm:"field=bio"`
		Owner *Ref               `odm:"field=owner,reference(email)"`
	}
	s.Register(&profile{})

	owner := &user{Email: "ada@example.com", Name: "Ada"}
	p := &profile{Bio: "mathematician", Owner: RefTo(owner)}
	require.NoError(t, s.Mapper.Save(ctx, p))
	require.False(t, owner.ID.IsZero(), "reference targets are saved first")

	obj, err := s.Mapper.First(ctx, "profile", p.ID)
	require.NoError(t, err)
	loaded := obj.(*profile)

	email, ok := loaded.Owner.Cached("email")
	require.True(t, ok)
	assert.Equal(t, "ada@example.com", email)

	target, err := loaded.Owner.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Ada", target.(*user).Name)
}
