package relay

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingPublisher records PublishEvents calls.
type countingPublisher struct {
	mu    sync.Mutex
	calls int
	ids   []string
	err   error
}

func (p *countingPublisher) PublishEvents(ctx context.Context, entity Entity) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.ids = append(p.ids, entity.ID())
	entity.ClearDomainEvents()
	return p.err
}

func TestInMemoryRepository_Insert(t *testing.T) {
	t.Run("stores and publishes once", func(t *testing.T) {
		pub := &countingPublisher{}
		repo := NewInMemoryRepository[*user](pub)

		u := newUser("John", "john@example.com")
		require.NoError(t, repo.Insert(context.Background(), u))

		found, err := repo.FindByID(context.Background(), u.ID())
		require.NoError(t, err)
		assert.Same(t, u, found)
		assert.Equal(t, 1, pub.calls)
		assert.Empty(t, u.DomainEvents())
	})

	t.Run("duplicate id fails without publishing", func(t *testing.T) {
		pub := &countingPublisher{}
		repo := NewInMemoryRepository[*user](pub)

		u := newUser("John", "john@example.com")
		require.NoError(t, repo.Insert(context.Background(), u))

		dup := &user{EntityBase: RestoreEntityBase(u.ID(), u.CreatedAt, u.UpdatedAt)}
		dup.AddDomainEvent(userCreated{})
		err := repo.Insert(context.Background(), dup)

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDuplicateEntity)
		assert.Contains(t, err.Error(), "already exists")
		assert.Equal(t, 1, pub.calls)
		assert.Len(t, dup.DomainEvents(), 1)
	})

	t.Run("publisher error is returned after storing", func(t *testing.T) {
		pub := &countingPublisher{err: errBoom}
		repo := NewInMemoryRepository[*user](pub)

		u := newUser("John", "john@example.com")
		err := repo.Insert(context.Background(), u)
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, 1, repo.Count())
	})

	t.Run("nil publisher", func(t *testing.T) {
		repo := NewInMemoryRepository[*user](nil)
		u := newUser("John", "john@example.com")
		require.NoError(t, repo.Insert(context.Background(), u))
		assert.Len(t, u.DomainEvents(), 1)
	})
}

func TestInMemoryRepository_Update(t *testing.T) {
	t.Run("replaces and publishes", func(t *testing.T) {
		pub := &countingPublisher{}
		repo := NewInMemoryRepository[*user](pub)
		u := newUser("John", "john@example.com")
		require.NoError(t, repo.Insert(context.Background(), u))

		u.Rename("Johnny")
		require.NoError(t, repo.Update(context.Background(), u))

		found, err := repo.FindByID(context.Background(), u.ID())
		require.NoError(t, err)
		assert.Equal(t, "Johnny", found.Name)
		assert.Equal(t, 2, pub.calls)
	})

	t.Run("missing id names the operation", func(t *testing.T) {
		pub := &countingPublisher{}
		repo := NewInMemoryRepository[*user](pub)

		err := repo.Update(context.Background(), newUser("John", "john@example.com"))
		var nf *EntityNotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "update", nf.Op)
		assert.Contains(t, err.Error(), "update")
		assert.Equal(t, 0, pub.calls)
	})
}

func TestInMemoryRepository_Delete(t *testing.T) {
	t.Run("removes and publishes", func(t *testing.T) {
		pub := &countingPublisher{}
		repo := NewInMemoryRepository[*user](pub)
		a := newUser("A", "a@example.com")
		b := newUser("B", "b@example.com")
		c := newUser("C", "c@example.com")
		for _, u := range []*user{a, b, c} {
			require.NoError(t, repo.Insert(context.Background(), u))
		}

		require.NoError(t, repo.Delete(context.Background(), b))

		_, err := repo.FindByID(context.Background(), b.ID())
		assert.ErrorIs(t, err, ErrEntityNotFound)

		all, err := repo.FindAll(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []*user{a, c}, all)
		assert.Equal(t, 4, pub.calls)
	})

	t.Run("missing id", func(t *testing.T) {
		repo := NewInMemoryRepository[*user](nil)
		err := repo.Delete(context.Background(), newUser("John", "john@example.com"))

		var nf *EntityNotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "delete", nf.Op)
	})
}

func TestInMemoryRepository_FindAll(t *testing.T) {
	repo := NewInMemoryRepository[*user](nil)
	all, err := repo.FindAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)

	var want []*user
	for _, name := range []string{"c", "a", "b"} {
		u := newUser(name, name+"@example.com")
		want = append(want, u)
		require.NoError(t, repo.Insert(context.Background(), u))
	}

	all, err = repo.FindAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, all)
}

func TestInMemoryRepository_Search(t *testing.T) {
	repo := NewInMemoryRepository[*user](nil)
	john := newUser("John Doe", "john@example.com")
	john.Age = 30
	jane := newUser("Jane Doe", "jane@example.org")
	jane.Age = 25
	require.NoError(t, repo.Insert(context.Background(), john))
	require.NoError(t, repo.Insert(context.Background(), jane))

	t.Run("empty query returns all", func(t *testing.T) {
		results, err := repo.Search(context.Background(), SearchQuery{})
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})

	t.Run("string fields match by substring", func(t *testing.T) {
		results, err := repo.Search(context.Background(), SearchQuery{"name": "Doe"})
		require.NoError(t, err)
		assert.Len(t, results, 2)

		results, err = repo.Search(context.Background(), SearchQuery{"email": "example.org"})
		require.NoError(t, err)
		assert.Equal(t, []*user{jane}, results)
	})

	t.Run("other fields match by equality", func(t *testing.T) {
		results, err := repo.Search(context.Background(), SearchQuery{"age": 30})
		require.NoError(t, err)
		assert.Equal(t, []*user{john}, results)
	})

	t.Run("all fields must match", func(t *testing.T) {
		results, err := repo.Search(context.Background(), SearchQuery{"name": "Doe", "age": 25})
		require.NoError(t, err)
		assert.Equal(t, []*user{jane}, results)
	})

	t.Run("unknown field matches nothing", func(t *testing.T) {
		results, err := repo.Search(context.Background(), SearchQuery{"nickname": "JD"})
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

type product struct {
	EntityBase
	sku string
}

func (p *product) Fields() map[string]interface{} {
	return map[string]interface{}{"sku": p.sku}
}

func TestInMemoryRepository_SearchFielder(t *testing.T) {
	repo := NewInMemoryRepository[*product](nil)
	p := &product{EntityBase: NewEntityBase(), sku: "ABC-123"}
	require.NoError(t, repo.Insert(context.Background(), p))

	results, err := repo.Search(context.Background(), SearchQuery{"sku": "ABC"})
	require.NoError(t, err)
	assert.Equal(t, []*product{p}, results)
}

func TestInMemoryRepository_Aggregate(t *testing.T) {
	repo := NewInMemoryRepository[*user](nil)
	young := newUser("Young", "y@example.com")
	young.Age = 20
	old := newUser("Old", "o@example.com")
	old.Age = 70
	require.NoError(t, repo.Insert(context.Background(), young))
	require.NoError(t, repo.Insert(context.Background(), old))

	results, err := repo.Aggregate(context.Background(), func(u *user) bool { return u.Age > 50 })
	require.NoError(t, err)
	assert.Equal(t, []*user{old}, results)

	results, err = repo.Aggregate(context.Background(), []string{"$match"})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestInMemoryRepository_Hydrate(t *testing.T) {
	t.Run("requires a hydrator", func(t *testing.T) {
		repo := NewInMemoryRepository[*user](nil)
		err := repo.Hydrate(context.Background(), map[string]interface{}{"id": "1"})
		assert.ErrorIs(t, err, ErrNoHydrator)
	})

	t.Run("loads without publishing", func(t *testing.T) {
		pub := &countingPublisher{}
		repo := NewInMemoryRepository[*user](pub)
		repo.OnHydrate(func(raw map[string]interface{}) (*user, error) {
			id, _ := raw["id"].(string)
			if id == "" {
				return nil, errors.New("missing id")
			}
			name, _ := raw["name"].(string)
			return &user{EntityBase: RestoreEntityBase(id, timeZero, timeZero), Name: name}, nil
		})

		require.NoError(t, repo.Hydrate(context.Background(),
			map[string]interface{}{"id": "1", "name": "Ann"},
			map[string]interface{}{"id": "2", "name": "Bob"},
		))
		assert.Equal(t, 2, repo.Count())
		assert.Equal(t, 0, pub.calls)

		found, err := repo.FindByID(context.Background(), "2")
		require.NoError(t, err)
		assert.Equal(t, "Bob", found.Name)

		err = repo.Hydrate(context.Background(), map[string]interface{}{})
		assert.Error(t, err)
	})

	t.Run("clear", func(t *testing.T) {
		repo := NewInMemoryRepository[*user](nil)
		require.NoError(t, repo.Insert(context.Background(), newUser("a", "a@example.com")))
		repo.Clear()
		assert.Equal(t, 0, repo.Count())
	})
}
