package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/caffeinestack/caffeinestack/server/internal/config"
)

var baseTime = time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

// tick returns baseTime advanced by n minutes.
func tick(n int) time.Time {
	return baseTime.Add(time.Duration(n) * time.Minute)
}

// newStore opens a fresh in-memory SQLite store.
func newStore(t *testing.T, retention time.Duration) *Store {
	t.Helper()
	db, err := Open(config.StorageConfig{Driver: "sqlite", Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	st, err := New(db, retention)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// seed creates one user and one machine and returns their ids.
func seed(t *testing.T, st *Store, caffeine int) (uint, uint) {
	t.Helper()
	ctx := context.Background()
	u, err := st.CreateUser(ctx, "alice", "hunter22", "alice@example.com")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	m, err := st.CreateMachine(ctx, "Espresso", caffeine)
	if err != nil {
		t.Fatalf("CreateMachine: %v", err)
	}
	return u.ID, m.ID
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(config.StorageConfig{Driver: "postgres"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestOpen_MySQLWithoutDSN(t *testing.T) {
	t.Setenv("EMPTY_DSN", "")
	if _, err := Open(config.StorageConfig{Driver: "mysql", DSNEnv: "EMPTY_DSN"}); err == nil {
		t.Fatal("expected error for empty mysql dsn")
	}
}

// --- users ---

func TestCreateUser_HashesPassword(t *testing.T) {
	st := newStore(t, 0)
	u, err := st.CreateUser(context.Background(), "alice", "hunter22", "alice@example.com")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.ID == 0 {
		t.Fatal("user id not assigned")
	}
	if u.PasswordHash == "hunter22" || u.PasswordHash == "" {
		t.Errorf("PasswordHash not hashed: %q", u.PasswordHash)
	}
}

func TestCreateUser_Duplicates(t *testing.T) {
	st := newStore(t, 0)
	ctx := context.Background()
	if _, err := st.CreateUser(ctx, "alice", "pw", "alice@example.com"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	tests := []struct {
		name         string
		login, email string
		want         error
	}{
		{"same login", "alice", "other@example.com", ErrLoginTaken},
		{"same email", "bob", "alice@example.com", ErrEmailTaken},
		{"both clash reports login", "alice", "alice@example.com", ErrLoginTaken},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := st.CreateUser(ctx, tc.login, "pw", tc.email)
			if !errors.Is(err, tc.want) {
				t.Errorf("err: got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestGetUser_Missing(t *testing.T) {
	st := newStore(t, 0)
	if _, err := st.GetUser(context.Background(), 99); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("err: got %v, want ErrUserNotFound", err)
	}
}

func TestAuthenticate(t *testing.T) {
	st := newStore(t, 0)
	ctx := context.Background()
	seed(t, st, 80)

	u, err := st.Authenticate(ctx, "alice", "hunter22")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if u.Login != "alice" {
		t.Errorf("Login: got %q, want alice", u.Login)
	}
	if _, err := st.Authenticate(ctx, "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password err: got %v", err)
	}
	if _, err := st.Authenticate(ctx, "mallory", "hunter22"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown login err: got %v", err)
	}
}

// --- machines ---

func TestMachines_CreateUpdateList(t *testing.T) {
	st := newStore(t, 0)
	ctx := context.Background()

	m1, err := st.CreateMachine(ctx, "Espresso", 63)
	if err != nil {
		t.Fatalf("CreateMachine: %v", err)
	}
	if _, err := st.CreateMachine(ctx, "Filter", 95); err != nil {
		t.Fatalf("CreateMachine: %v", err)
	}

	upd, err := st.UpdateMachine(ctx, m1.ID, "Double espresso", 126)
	if err != nil {
		t.Fatalf("UpdateMachine: %v", err)
	}
	if upd.Caffeine != 126 || upd.Name != "Double espresso" {
		t.Errorf("updated machine: got %+v", upd)
	}

	all, err := st.ListMachines(ctx)
	if err != nil {
		t.Fatalf("ListMachines: %v", err)
	}
	if len(all) != 2 || all[0].ID != m1.ID || all[0].Caffeine != 126 {
		t.Errorf("ListMachines: got %+v", all)
	}

	if _, err := st.UpdateMachine(ctx, 999, "x", 1); !errors.Is(err, ErrMachineNotFound) {
		t.Errorf("update missing machine err: got %v", err)
	}
}

// --- purchases ---

func TestCreatePurchase_CopiesMachineCaffeine(t *testing.T) {
	st := newStore(t, 0)
	ctx := context.Background()
	uid, mid := seed(t, st, 80)

	p, err := st.CreatePurchase(ctx, uid, mid, tick(0))
	if err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}
	if p.Caffeine != 80 {
		t.Errorf("Caffeine: got %d, want 80", p.Caffeine)
	}

	// Re-tuning the machine must not rewrite history.
	if _, err := st.UpdateMachine(ctx, mid, "Espresso", 120); err != nil {
		t.Fatalf("UpdateMachine: %v", err)
	}
	if _, err := st.CreatePurchase(ctx, uid, mid, tick(30)); err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}

	doses, err := st.Doses(ctx, uid, time.Time{})
	if err != nil {
		t.Fatalf("Doses: %v", err)
	}
	if len(doses) != 2 || doses[0].AmountMg != 80 || doses[1].AmountMg != 120 {
		t.Errorf("Doses: got %+v", doses)
	}
	if !doses[0].OccurredAt.Equal(tick(0)) {
		t.Errorf("OccurredAt: got %v, want %v", doses[0].OccurredAt, tick(0))
	}
}

func TestCreatePurchase_MissingReferences(t *testing.T) {
	st := newStore(t, 0)
	ctx := context.Background()
	uid, mid := seed(t, st, 80)

	if _, err := st.CreatePurchase(ctx, 999, mid, tick(0)); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("missing user err: got %v", err)
	}
	if _, err := st.CreatePurchase(ctx, uid, 999, tick(0)); !errors.Is(err, ErrMachineNotFound) {
		t.Errorf("missing machine err: got %v", err)
	}
	if _, err := st.CreatePurchase(ctx, 998, 999, tick(0)); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("both missing err: got %v, want ErrUserNotFound", err)
	}
}

func TestListPurchases_Filters(t *testing.T) {
	st := newStore(t, 0)
	ctx := context.Background()
	uid, mid := seed(t, st, 80)
	bob, err := st.CreateUser(ctx, "bob", "pw", "bob@example.com")
	if err != nil {
		t.Fatal(err)
	}
	other, err := st.CreateMachine(ctx, "Tea", 40)
	if err != nil {
		t.Fatal(err)
	}

	mustBuy := func(u, m uint, at time.Time) {
		t.Helper()
		if _, err := st.CreatePurchase(ctx, u, m, at); err != nil {
			t.Fatalf("CreatePurchase: %v", err)
		}
	}
	mustBuy(uid, mid, tick(60))
	mustBuy(uid, other.ID, tick(0))
	mustBuy(bob.ID, mid, tick(30))

	tests := []struct {
		name string
		f    PurchaseFilter
		want int
	}{
		{"all", PurchaseFilter{}, 3},
		{"by user", PurchaseFilter{UserID: uid}, 2},
		{"by machine", PurchaseFilter{MachineID: mid}, 2},
		{"by user and machine", PurchaseFilter{UserID: bob.ID, MachineID: other.ID}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := st.ListPurchases(ctx, tc.f)
			if err != nil {
				t.Fatalf("ListPurchases: %v", err)
			}
			if len(got) != tc.want {
				t.Errorf("len: got %d, want %d", len(got), tc.want)
			}
		})
	}

	all, _ := st.ListPurchases(ctx, PurchaseFilter{})
	for i := 1; i < len(all); i++ {
		if all[i].Timestamp.Before(all[i-1].Timestamp) {
			t.Errorf("purchases not ordered by timestamp: %v before %v", all[i].Timestamp, all[i-1].Timestamp)
		}
	}
}

func TestDoses_Since(t *testing.T) {
	st := newStore(t, 0)
	ctx := context.Background()
	uid, mid := seed(t, st, 80)
	for _, m := range []int{0, 600, 1200} {
		if _, err := st.CreatePurchase(ctx, uid, mid, tick(m)); err != nil {
			t.Fatal(err)
		}
	}

	doses, err := st.Doses(ctx, uid, tick(600))
	if err != nil {
		t.Fatalf("Doses: %v", err)
	}
	if len(doses) != 2 {
		t.Fatalf("len: got %d, want 2", len(doses))
	}
	if !doses[0].OccurredAt.Equal(tick(600)) {
		t.Errorf("first dose: got %v, want %v", doses[0].OccurredAt, tick(600))
	}
}

func TestRecentUsers(t *testing.T) {
	st := newStore(t, 0)
	ctx := context.Background()
	alice, mid := seed(t, st, 80)
	bob, err := st.CreateUser(ctx, "bob", "pw", "bob@example.com")
	if err != nil {
		t.Fatal(err)
	}
	carol, err := st.CreateUser(ctx, "carol", "pw", "carol@example.com")
	if err != nil {
		t.Fatal(err)
	}

	buys := []struct {
		user uint
		at   time.Time
	}{
		{bob.ID, tick(700)},
		{alice, tick(600)},
		{bob.ID, tick(800)},
		{carol.ID, tick(10)},
	}
	for _, b := range buys {
		if _, err := st.CreatePurchase(ctx, b.user, mid, b.at); err != nil {
			t.Fatal(err)
		}
	}

	got, err := st.RecentUsers(ctx, tick(600))
	if err != nil {
		t.Fatalf("RecentUsers: %v", err)
	}
	if len(got) != 2 || got[0] != alice || got[1] != bob.ID {
		t.Errorf("RecentUsers: got %v, want [%d %d]", got, alice, bob.ID)
	}
}

func TestCounts(t *testing.T) {
	st := newStore(t, 0)
	ctx := context.Background()
	uid, mid := seed(t, st, 80)
	if _, err := st.CreatePurchase(ctx, uid, mid, tick(0)); err != nil {
		t.Fatal(err)
	}
	c, err := st.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if c != (Counts{Users: 1, Machines: 1, Purchases: 1}) {
		t.Errorf("Counts: got %+v", c)
	}
}

// --- retention ---

func TestEvict_RemovesOldPurchases(t *testing.T) {
	st := newStore(t, 24*time.Hour)
	ctx := context.Background()
	uid, mid := seed(t, st, 80)
	for _, m := range []int{0, 60, 2000} {
		if _, err := st.CreatePurchase(ctx, uid, mid, tick(m)); err != nil {
			t.Fatal(err)
		}
	}

	// now = tick(1500): cutoff = tick(60); strictly older purchases go.
	n, err := st.Evict(ctx, tick(1500))
	if err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if n != 1 {
		t.Errorf("evicted: got %d, want 1", n)
	}
	left, _ := st.ListPurchases(ctx, PurchaseFilter{})
	if len(left) != 2 {
		t.Errorf("remaining: got %d, want 2", len(left))
	}
}

func TestEvict_ZeroRetentionKeepsEverything(t *testing.T) {
	st := newStore(t, 0)
	ctx := context.Background()
	uid, mid := seed(t, st, 80)
	if _, err := st.CreatePurchase(ctx, uid, mid, tick(-100000)); err != nil {
		t.Fatal(err)
	}
	n, err := st.Evict(ctx, tick(0))
	if err != nil || n != 0 {
		t.Errorf("Evict: got %d, %v, want 0, nil", n, err)
	}
}

func TestRun_ReturnsImmediatelyWithoutRetention(t *testing.T) {
	st := newStore(t, 0)
	done := make(chan struct{})
	go func() {
		st.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return with zero retention")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	st := newStore(t, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		st.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
