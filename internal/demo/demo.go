// Package demo is the sample service served by the tendril command: a small
// user directory with an admin namespace and two subscriptions.
package demo

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/aretw0/tendril/pkg/ctxresolve"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/handler"
	"github.com/aretw0/tendril/pkg/router"
)

// ScopeAdmin is the token scope required by the admin namespace.
const ScopeAdmin = "admin"

// ErrBanned is returned when a banned user is created again.
var ErrBanned = domain.NewError(4003, "user is banned", nil)

type User struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Email *string `json:"email"`
}

// Page is one window of a listing.
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

// App holds the service state shared by every call.
type App struct {
	mu       sync.Mutex
	users    map[string]User
	order    []string
	banned   map[string]bool
	nextID   int
	watchers map[int]chan User
	nextW    int
	tick     time.Duration
}

// NewApp creates an App seeded with one user.
func NewApp() *App {
	a := &App{
		users:    make(map[string]User),
		banned:   make(map[string]bool),
		watchers: make(map[int]chan User),
		tick:     time.Second,
	}
	a.add("ada", nil)
	return a
}

// WithTick overrides the counter interval.
func (a *App) WithTick(d time.Duration) *App {
	a.tick = d
	return a
}

func (a *App) add(name string, email *string) User {
	a.nextID++
	u := User{ID: strconv.Itoa(a.nextID), Name: name, Email: email}
	a.users[u.ID] = u
	a.order = append(a.order, u.ID)
	for _, w := range a.watchers {
		select {
		case w <- u:
		default:
		}
	}
	return u
}

// Admin is the derived context of the admin namespace.
type Admin struct {
	App     *App
	Subject string
}

// RequireAdmin verifies an HS256 bearer token carrying the admin scope.
func RequireAdmin(secret []byte) ctxresolve.Func[*App, *Admin] {
	bearer := ctxresolve.Bearer[*App](secret)
	return func(ctx context.Context, a *App, md domain.Metadata) (*Admin, error) {
		claims, err := bearer(ctx, a, md)
		if err != nil {
			return nil, err
		}
		if claims.Scope != ScopeAdmin {
			return nil, domain.NewError(domain.CodeUnauthorized, "unauthorized", "admin scope required")
		}
		return &Admin{App: a, Subject: claims.Subject}, nil
	}
}

type GetParams struct {
	ID string `json:"id"`
}

type ListParams struct {
	Offset *int `json:"offset"`
	Limit  *int `json:"limit"`
}

type CreateParams struct {
	Name  string  `json:"name"`
	Email *string `json:"email"`
}

type BanParams struct {
	User string `json:"user"`
}

type CounterParams struct {
	Limit *int `json:"limit"`
}

// Get returns the user with the id, or nil.
func Get(_ context.Context, a *App, p GetParams) (*User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.users[p.ID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// List pages through users in creation order.
func List(_ context.Context, a *App, p ListParams) (Page[User], error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	offset, limit := 0, 20
	if p.Offset != nil {
		offset = *p.Offset
	}
	if p.Limit != nil {
		limit = *p.Limit
	}
	if offset < 0 || limit < 0 {
		return Page[User]{}, domain.InvalidParams(errors.New("offset and limit must not be negative"))
	}
	page := Page[User]{Items: []User{}, Total: len(a.order)}
	for i := offset; i < len(a.order) && len(page.Items) < limit; i++ {
		page.Items = append(page.Items, a.users[a.order[i]])
	}
	return page, nil
}

// Create adds a user and notifies watchers.
func Create(_ context.Context, a *App, p CreateParams) (User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p.Name == "" {
		return User{}, domain.InvalidParams(errors.New("name is empty"))
	}
	if a.banned[p.Name] {
		return User{}, ErrBanned
	}
	return a.add(p.Name, p.Email), nil
}

// Ban marks a user name as banned. It reports whether the name was new.
func Ban(_ context.Context, c *Admin, p BanParams) (bool, error) {
	c.App.mu.Lock()
	defer c.App.mu.Unlock()
	if c.App.banned[p.User] {
		return false, nil
	}
	c.App.banned[p.User] = true
	return true, nil
}

// Banned lists banned names, sorted.
func Banned(_ context.Context, c *Admin, _ handler.NoParams) ([]string, error) {
	c.App.mu.Lock()
	defer c.App.mu.Unlock()
	names := make([]string, 0, len(c.App.banned))
	for name := range c.App.banned {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// Counter yields 0, 1, 2... once per tick, forever unless limit is set.
func Counter(ctx context.Context, a *App, p CounterParams) (iter.Seq2[int, error], error) {
	if p.Limit != nil && *p.Limit < 0 {
		return nil, domain.InvalidParams(fmt.Errorf("limit %d is negative", *p.Limit))
	}
	tick := a.tick
	return func(yield func(int, error) bool) {
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for i := 0; p.Limit == nil || i < *p.Limit; i++ {
			if !yield(i, nil) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}, nil
}

// Created streams users as they are created.
func Created(ctx context.Context, a *App, _ handler.NoParams) (iter.Seq2[User, error], error) {
	ch := make(chan User, 16)
	a.mu.Lock()
	id := a.nextW
	a.nextW++
	a.watchers[id] = ch
	a.mu.Unlock()

	return func(yield func(User, error) bool) {
		defer func() {
			a.mu.Lock()
			delete(a.watchers, id)
			a.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case u := <-ch:
				if !yield(u, nil) {
					return
				}
			}
		}
	}, nil
}

// Router assembles the demo namespace tree.
func Router(secret []byte) (*router.Router, error) {
	self := ctxresolve.Identity[*App]()
	admin := RequireAdmin(secret)

	users := router.New()
	adminRouter := router.New()
	r := router.New()
	for _, step := range []struct {
		r    *router.Router
		path string
		d    *handler.Descriptor
	}{
		{r, "", handler.Query("get", self, Get, handler.Describe("Looks a user up by id."))},
		{r, "", handler.Mutation("create", self, Create, handler.Describe("Creates a user."))},
		{r, "", handler.Subscription("counter", self, Counter, handler.Describe("Counts once per tick."))},
		{users, "", handler.Query("list", self, List)},
		{users, "", handler.Subscription("created", self, Created, handler.Describe("Streams newly created users."))},
		{adminRouter, "", handler.Mutation("ban", admin, Ban, handler.Describe("Bans a user name."))},
		{adminRouter, "", handler.Query("banned", admin, Banned)},
	} {
		if err := step.r.Attach(step.path, step.d); err != nil {
			return nil, err
		}
	}
	if err := r.Nest("users", users); err != nil {
		return nil, err
	}
	if err := r.Nest("admin", adminRouter); err != nil {
		return nil, err
	}
	return r, nil
}
