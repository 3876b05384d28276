package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/ga4access/pkg/grants"
	"github.com/platinummonkey/ga4access/pkg/roles"
	"github.com/platinummonkey/ga4access/pkg/users"
)

const (
	defaultCacheTTL  = time.Minute
	defaultCacheSize = 1024
)

// CheckerConfig configures the role cache
type CheckerConfig struct {
	// TTL bounds how long a role change made by another replica can go unseen
	TTL time.Duration
	// Size is the L1 entry limit
	Size int
	// Redis enables the shared L2 cache when set
	Redis *redis.Client
	// KeyPrefix namespaces L2 keys
	KeyPrefix string
}

// Checker is a users.Store whose Get is served from a TTL cache. Writes that
// change a user's role or status invalidate the entry.
type Checker struct {
	users.Store

	l1     *expirable.LRU[int64, *users.User]
	redis  *redis.Client
	ttl    time.Duration
	prefix string
	logger *logrus.Logger
}

// NewChecker wraps store with a role cache
func NewChecker(store users.Store, cfg CheckerConfig, logger *logrus.Logger) *Checker {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultCacheTTL
	}
	if cfg.Size <= 0 {
		cfg.Size = defaultCacheSize
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rbac:user"
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Checker{
		Store:  store,
		l1:     expirable.NewLRU[int64, *users.User](cfg.Size, nil, cfg.TTL),
		redis:  cfg.Redis,
		ttl:    cfg.TTL,
		prefix: cfg.KeyPrefix,
		logger: logger,
	}
}

func (c *Checker) redisKey(id int64) string {
	return fmt.Sprintf("%s:%d", c.prefix, id)
}

// Get returns the user, consulting L1, then L2, then the store
func (c *Checker) Get(ctx context.Context, id int64) (*users.User, error) {
	if u, ok := c.l1.Get(id); ok {
		return clone(u), nil
	}

	if u := c.getL2(ctx, id); u != nil {
		c.l1.Add(id, u)
		return clone(u), nil
	}

	u, err := c.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.l1.Add(id, clone(u))
	c.setL2(ctx, u)
	return u, nil
}

// UpdateSystemRole updates the store and invalidates the cached user
func (c *Checker) UpdateSystemRole(ctx context.Context, id int64, role roles.SystemRole) (*users.User, error) {
	u, err := c.Store.UpdateSystemRole(ctx, id, role)
	c.Invalidate(ctx, id)
	return u, err
}

// SetStatus updates the store and invalidates the cached user
func (c *Checker) SetStatus(ctx context.Context, id int64, status users.Status) error {
	err := c.Store.SetStatus(ctx, id, status)
	c.Invalidate(ctx, id)
	return err
}

// Invalidate drops id from both cache levels
func (c *Checker) Invalidate(ctx context.Context, id int64) {
	c.l1.Remove(id)
	if c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, c.redisKey(id)).Err(); err != nil {
		c.logger.WithError(err).WithField("user_id", id).Warn("role cache invalidation failed")
	}
}

// Can reports whether user id currently holds perm
func (c *Checker) Can(ctx context.Context, id int64, perm Permission) (bool, error) {
	u, err := c.Get(ctx, id)
	if errors.Is(err, users.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.IsActive() && HasPermission(u.SystemRole, perm), nil
}

func (c *Checker) getL2(ctx context.Context, id int64) *users.User {
	if c.redis == nil {
		return nil
	}
	data, err := c.redis.Get(ctx, c.redisKey(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).Debug("role cache read failed")
		}
		return nil
	}
	var u users.User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil
	}
	return &u
}

func (c *Checker) setL2(ctx context.Context, u *users.User) {
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(u)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, c.redisKey(u.ID), data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).Debug("role cache write failed")
	}
}

func clone(u *users.User) *users.User {
	c := *u
	return &c
}

// CanViewGrant reports whether u may read g
func CanViewGrant(u *users.User, g *grants.Grant) bool {
	if !u.IsActive() {
		return false
	}
	if g.RequesterID == u.ID || grants.NormalizeEmail(g.SubjectEmail) == grants.NormalizeEmail(u.Email) {
		return true
	}
	return HasPermission(u.SystemRole, PermGrantReadClient) && u.CanAdminister(g.ClientID)
}

// ScopeGrantFilter restricts f to the grants u may list
func ScopeGrantFilter(u *users.User, f *grants.ListFilter) {
	switch {
	case HasPermission(u.SystemRole, PermGrantReadAll):
	case HasPermission(u.SystemRole, PermGrantReadClient):
		f.ClientID = &u.ClientID
	default:
		f.RequesterID = &u.ID
	}
}
