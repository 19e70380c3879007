package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/caffeinestack/caffeinestack/pkg/types"
	"github.com/caffeinestack/caffeinestack/server/internal/auth"
	"github.com/caffeinestack/caffeinestack/server/internal/config"
)

// Errors returned by Store operations. Check with errors.Is.
var (
	ErrLoginTaken         = errors.New("login already taken")
	ErrEmailTaken         = errors.New("email already taken")
	ErrUserNotFound       = errors.New("user not found")
	ErrMachineNotFound    = errors.New("machine not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Store is the database-backed repository for users, machines and purchases.
// It is safe for concurrent use.
type Store struct {
	db        *gorm.DB
	retention time.Duration
	now       func() time.Time // injectable for deterministic tests
}

// Counts holds row totals, used for metrics.
type Counts struct {
	Users     int64
	Machines  int64
	Purchases int64
}

// PurchaseFilter restricts ListPurchases. Zero fields match everything.
type PurchaseFilter struct {
	UserID    uint
	MachineID uint
}

// Open connects to the database selected by cfg.Driver.
func Open(cfg config.StorageConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.Path)
	case "mysql":
		dsn := cfg.DSN()
		if dsn == "" {
			return nil, fmt.Errorf("store: mysql dsn env %q is empty", cfg.DSNEnv)
		}
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", cfg.Driver, err)
	}

	// Every connection to ":memory:" gets its own empty database.
	if cfg.Driver == "sqlite" && cfg.Path == ":memory:" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("store: sql handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// New migrates the schema and returns a Store. Purchases older than
// retention are purged by Run; zero retention keeps everything.
func New(db *gorm.DB, retention time.Duration) (*Store, error) {
	if err := db.AutoMigrate(&User{}, &CoffeeMachine{}, &Purchase{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Store{db: db, retention: retention, now: time.Now}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --- users ------------------------------------------------------------------

// CreateUser registers a new user. Login uniqueness is checked before email
// uniqueness, so a request clashing on both reports ErrLoginTaken.
func (s *Store) CreateUser(ctx context.Context, login, password, email string) (*User, error) {
	db := s.db.WithContext(ctx)

	taken, err := exists(db.Model(&User{}).Where("login = ?", login))
	if err != nil {
		return nil, fmt.Errorf("store: check login: %w", err)
	}
	if taken {
		return nil, ErrLoginTaken
	}
	taken, err = exists(db.Model(&User{}).Where("email = ?", email))
	if err != nil {
		return nil, fmt.Errorf("store: check email: %w", err)
	}
	if taken {
		return nil, ErrEmailTaken
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("store: hash password: %w", err)
	}
	u := &User{Login: login, PasswordHash: hash, Email: email}
	if err := db.Create(u).Error; err != nil {
		return nil, fmt.Errorf("store: create user: %w", err)
	}
	return u, nil
}

// GetUser returns the user with the given id or ErrUserNotFound.
func (s *Store) GetUser(ctx context.Context, id uint) (*User, error) {
	var u User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("store: get user %d: %w", id, err)
	}
	return &u, nil
}

// Authenticate returns the user whose login and password match, or
// ErrInvalidCredentials. Unknown logins and wrong passwords are not
// distinguished.
func (s *Store) Authenticate(ctx context.Context, login, password string) (*User, error) {
	var u User
	err := s.db.WithContext(ctx).Where("login = ?", login).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("store: find login: %w", err)
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return &u, nil
}

// --- machines ---------------------------------------------------------------

// CreateMachine registers a coffee machine dispensing caffeine mg per cup.
func (s *Store) CreateMachine(ctx context.Context, name string, caffeine int) (*CoffeeMachine, error) {
	m := &CoffeeMachine{Name: name, Caffeine: caffeine}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, fmt.Errorf("store: create machine: %w", err)
	}
	return m, nil
}

// GetMachine returns the machine with the given id or ErrMachineNotFound.
func (s *Store) GetMachine(ctx context.Context, id uint) (*CoffeeMachine, error) {
	var m CoffeeMachine
	if err := s.db.WithContext(ctx).First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMachineNotFound
		}
		return nil, fmt.Errorf("store: get machine %d: %w", id, err)
	}
	return &m, nil
}

// UpdateMachine changes a machine's name and caffeine content. Existing
// purchases keep the caffeine value they were made with.
func (s *Store) UpdateMachine(ctx context.Context, id uint, name string, caffeine int) (*CoffeeMachine, error) {
	m, err := s.GetMachine(ctx, id)
	if err != nil {
		return nil, err
	}
	m.Name = name
	m.Caffeine = caffeine
	if err := s.db.WithContext(ctx).Save(m).Error; err != nil {
		return nil, fmt.Errorf("store: update machine %d: %w", id, err)
	}
	return m, nil
}

// ListMachines returns all machines ordered by id.
func (s *Store) ListMachines(ctx context.Context) ([]CoffeeMachine, error) {
	var out []CoffeeMachine
	if err := s.db.WithContext(ctx).Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("store: list machines: %w", err)
	}
	return out, nil
}

// --- purchases --------------------------------------------------------------

// CreatePurchase records that userID bought a cup from machineID at at.
// The user is checked before the machine, so when both are missing
// ErrUserNotFound is returned.
func (s *Store) CreatePurchase(ctx context.Context, userID, machineID uint, at time.Time) (*Purchase, error) {
	if _, err := s.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	m, err := s.GetMachine(ctx, machineID)
	if err != nil {
		return nil, err
	}

	p := &Purchase{
		UserID:    userID,
		MachineID: machineID,
		Timestamp: at.UTC(),
		Caffeine:  m.Caffeine,
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, fmt.Errorf("store: create purchase: %w", err)
	}

	slog.Debug("store: purchase recorded",
		"purchase_id", p.ID, "user_id", userID, "machine_id", machineID, "caffeine", p.Caffeine)
	return p, nil
}

// ListPurchases returns purchases matching f, oldest first.
func (s *Store) ListPurchases(ctx context.Context, f PurchaseFilter) ([]Purchase, error) {
	q := s.db.WithContext(ctx).Model(&Purchase{})
	if f.UserID != 0 {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.MachineID != 0 {
		q = q.Where("machine_id = ?", f.MachineID)
	}

	var out []Purchase
	if err := q.Order("timestamp").Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("store: list purchases: %w", err)
	}
	return out, nil
}

// Doses returns the user's purchases as doses, oldest first. When since is
// non-zero only purchases at or after since are included.
func (s *Store) Doses(ctx context.Context, userID uint, since time.Time) ([]types.Dose, error) {
	q := s.db.WithContext(ctx).Model(&Purchase{}).Where("user_id = ?", userID)
	if !since.IsZero() {
		q = q.Where("timestamp >= ?", since.UTC())
	}

	var rows []Purchase
	if err := q.Order("timestamp").Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: doses for user %d: %w", userID, err)
	}

	doses := make([]types.Dose, 0, len(rows))
	for _, p := range rows {
		doses = append(doses, types.Dose{
			AmountMg:   float64(p.Caffeine),
			OccurredAt: p.Timestamp,
		})
	}
	return doses, nil
}

// RecentUsers returns the distinct ids of users with a purchase at or after
// since, in ascending order.
func (s *Store) RecentUsers(ctx context.Context, since time.Time) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&Purchase{}).
		Where("timestamp >= ?", since.UTC()).
		Distinct().Order("user_id").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("store: recent users: %w", err)
	}
	return ids, nil
}

// Counts returns row totals for each table.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	db := s.db.WithContext(ctx)
	if err := db.Model(&User{}).Count(&c.Users).Error; err != nil {
		return c, fmt.Errorf("store: count users: %w", err)
	}
	if err := db.Model(&CoffeeMachine{}).Count(&c.Machines).Error; err != nil {
		return c, fmt.Errorf("store: count machines: %w", err)
	}
	if err := db.Model(&Purchase{}).Count(&c.Purchases).Error; err != nil {
		return c, fmt.Errorf("store: count purchases: %w", err)
	}
	return c, nil
}

// --- retention --------------------------------------------------------------

// Retention returns the configured purchase retention.
func (s *Store) Retention() time.Duration {
	return s.retention
}

// Evict deletes purchases whose timestamp is older than now minus the
// retention and returns how many were removed. It is a no-op when retention
// is zero.
func (s *Store) Evict(ctx context.Context, now time.Time) (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-s.retention).UTC()
	res := s.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&Purchase{})
	if res.Error != nil {
		return 0, fmt.Errorf("store: evict purchases: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Run starts the background retention loop. It ticks at half the retention
// interval (minimum 1 minute). Run returns immediately when retention is zero
// and otherwise blocks until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	if s.retention <= 0 {
		return
	}
	interval := s.retention / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.Evict(ctx, s.now())
			if err != nil {
				slog.Error("store: retention sweep failed", "err", err)
				continue
			}
			if n > 0 {
				slog.Info("store: evicted old purchases", "count", n)
			}
		}
	}
}

// exists reports whether q matches at least one row.
func exists(q *gorm.DB) (bool, error) {
	var n int64
	if err := q.Limit(1).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}
