package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-registration-backend/internal/apperror"
	"github.com/tbourn/go-registration-backend/internal/domain"
	"github.com/tbourn/go-registration-backend/internal/repo"
	"github.com/tbourn/go-registration-backend/internal/validation"
)

// ----- Fake repo -----

type fakeRegRepo struct {
	reserved    bool
	reservedErr error
	weak        bool
	weakErr     error

	gotEmail    string
	gotPassword string

	records   map[string]*domain.Idempotency
	getErr    error
	createErr error
	creates   int
}

func (r *fakeRegRepo) EmailReserved(ctx context.Context, db *gorm.DB, email string) (bool, error) {
	r.gotEmail = email
	return r.reserved, r.reservedErr
}

func (r *fakeRegRepo) PasswordWeak(ctx context.Context, db *gorm.DB, password string) (bool, error) {
	r.gotPassword = password
	return r.weak, r.weakErr
}

func (r *fakeRegRepo) GetIdempotency(ctx context.Context, db *gorm.DB, scope, key string, now time.Time) (*domain.Idempotency, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	if rec, ok := r.records[scope+"/"+key]; ok {
		return rec, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRegRepo) CreateIdempotency(ctx context.Context, db *gorm.DB, scope, key, fingerprint string, status int, data string, ttl time.Duration) (*domain.Idempotency, error) {
	r.creates++
	if r.createErr != nil {
		return nil, r.createErr
	}
	if r.records == nil {
		r.records = map[string]*domain.Idempotency{}
	}
	rec := &domain.Idempotency{Scope: scope, Key: key, Fingerprint: fingerprint, Status: status, Data: data, ExpiresAt: time.Now().Add(ttl)}
	r.records[scope+"/"+key] = rec
	return rec, nil
}

// ----- Business rules -----

func TestCheckBusinessRules_Pass(t *testing.T) {
	r := &fakeRegRepo{}
	s := NewRegistrationService(nil, r)

	if err := s.CheckBusinessRules(context.Background(), "ada@example.com", "s3cret-pass"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if r.gotEmail != "ada@example.com" || r.gotPassword != "s3cret-pass" {
		t.Fatalf("repo not consulted with inputs: %+v", r)
	}
}

func TestCheckBusinessRules_SingleFailures(t *testing.T) {
	tests := []struct {
		name     string
		reserved bool
		weak     bool
		code     string
	}{
		{"email taken", true, false, "EMAIL_ALREADY_TAKEN"},
		{"weak password", false, true, "AUTH_WEAK_PASSWORD"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := NewRegistrationService(nil, &fakeRegRepo{reserved: tc.reserved, weak: tc.weak})
			err := s.CheckBusinessRules(context.Background(), "e", "p")

			ae, ok := apperror.As(err)
			if !ok {
				t.Fatalf("expected *apperror.Error, got %T", err)
			}
			if ae.Code != tc.code || ae.StatusCode != http.StatusBadRequest {
				t.Fatalf("unexpected error: %+v", ae)
			}
			if len(ae.Errors) != 0 {
				t.Fatalf("single failure should not list codes, got %v", ae.Errors)
			}
		})
	}
}

func TestCheckBusinessRules_BothFailAggregates(t *testing.T) {
	s := NewRegistrationService(nil, &fakeRegRepo{reserved: true, weak: true})

	err := s.CheckBusinessRules(context.Background(), "dummy@gmail.com", "qwerty123")
	ae, ok := apperror.As(err)
	if !ok {
		t.Fatalf("expected *apperror.Error, got %T", err)
	}
	if ae.Code != "EMAIL_ALREADY_TAKEN" {
		t.Fatalf("first failure decides the code, got %q", ae.Code)
	}
	if ae.Message != apperror.EmailAlreadyTaken.Message {
		t.Fatalf("unexpected message %q", ae.Message)
	}
	want := []string{"EMAIL_ALREADY_TAKEN", "AUTH_WEAK_PASSWORD"}
	if fmt.Sprint(ae.Errors) != fmt.Sprint(want) {
		t.Fatalf("errors = %v; want %v", ae.Errors, want)
	}
}

func TestCheckBusinessRules_RepoErrorIsNotAnAppError(t *testing.T) {
	boom := errors.New("db down")
	for _, r := range []*fakeRegRepo{{reservedErr: boom}, {weakErr: boom}} {
		s := NewRegistrationService(nil, r)
		err := s.CheckBusinessRules(context.Background(), "e", "p")
		if !errors.Is(err, boom) {
			t.Fatalf("expected wrapped repo error, got %v", err)
		}
		if _, ok := apperror.As(err); ok {
			t.Fatalf("repo failure must surface as unknown error")
		}
		if got := apperror.Create(err); got.Code != "UNKNOWN_ERROR" {
			t.Fatalf("factory code = %q; want UNKNOWN_ERROR", got.Code)
		}
	}
}

// ----- Register -----

func TestRegister_WithoutKey(t *testing.T) {
	r := &fakeRegRepo{}
	s := NewRegistrationService(nil, r)

	res, err := s.Register(context.Background(), validation.Input{"email": "a@b.c"}, IdempotencyRef{})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if res.Response.Message != "Registration is successful" || res.Status != http.StatusOK || res.Replayed {
		t.Fatalf("unexpected result: %+v", res)
	}
	if r.creates != 0 {
		t.Fatalf("nothing should be recorded without a key")
	}
}

func TestRegister_RecordsThenReplays(t *testing.T) {
	r := &fakeRegRepo{}
	s := NewRegistrationService(nil, r)
	ctx := context.Background()

	ref := IdempotencyRef{Key: "k-1", Fingerprint: "fp-a"}

	first, err := s.Register(ctx, validation.Input{}, ref)
	if err != nil || first.Replayed {
		t.Fatalf("first call: res=%+v err=%v", first, err)
	}
	if r.creates != 1 {
		t.Fatalf("expected one record, got %d", r.creates)
	}

	if rec := r.records[ScopeRegistration+"/k-1"]; rec.Fingerprint != "fp-a" {
		t.Fatalf("fingerprint not recorded: %+v", rec)
	}

	second, err := s.Register(ctx, validation.Input{}, ref)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if !second.Replayed || second.Response != first.Response || second.Status != first.Status {
		t.Fatalf("expected replay of %+v, got %+v", first, second)
	}
	if r.creates != 1 {
		t.Fatalf("replay must not record again")
	}
}

func TestRegister_RecordFailureIsBestEffort(t *testing.T) {
	s := NewRegistrationService(nil, &fakeRegRepo{createErr: errors.New("disk full")})
	res, err := s.Register(context.Background(), validation.Input{}, IdempotencyRef{Key: "k-2"})
	if err != nil || res == nil || res.Replayed {
		t.Fatalf("expected fresh success, got res=%+v err=%v", res, err)
	}
}

func TestRegister_LookupErrorPropagates(t *testing.T) {
	boom := errors.New("db down")
	s := NewRegistrationService(nil, &fakeRegRepo{getErr: boom})
	if _, err := s.Register(context.Background(), validation.Input{}, IdempotencyRef{Key: "k-3"}); !errors.Is(err, boom) {
		t.Fatalf("expected lookup error, got %v", err)
	}
}

func TestRegister_KeyReusedWithOtherPayload(t *testing.T) {
	r := &fakeRegRepo{}
	s := NewRegistrationService(nil, r)
	ctx := context.Background()

	if _, err := s.Register(ctx, validation.Input{}, IdempotencyRef{Key: "k-4", Fingerprint: "fp-a"}); err != nil {
		t.Fatalf("first call: %v", err)
	}

	res, err := s.Register(ctx, validation.Input{}, IdempotencyRef{Key: "k-4", Fingerprint: "fp-b"})
	if res != nil {
		t.Fatalf("expected no result, got %+v", res)
	}
	ae, ok := apperror.As(err)
	if !ok || ae.Code != "IDEMPOTENCY_KEY_REUSED" || ae.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected IDEMPOTENCY_KEY_REUSED, got %v", err)
	}
	if r.creates != 1 {
		t.Fatalf("a reused key must not record again, got %d creates", r.creates)
	}
}

func TestReplay(t *testing.T) {
	r := &fakeRegRepo{records: map[string]*domain.Idempotency{
		ScopeRegistration + "/k": {Scope: ScopeRegistration, Key: "k", Fingerprint: "fp", Status: 200, Data: `{"message":"Registration is successful"}`},
	}}
	s := NewRegistrationService(nil, r)
	ctx := context.Background()

	if res, err := s.Replay(ctx, IdempotencyRef{}); res != nil || err != nil {
		t.Fatalf("empty key: res=%+v err=%v", res, err)
	}
	if res, err := s.Replay(ctx, IdempotencyRef{Key: "missing", Fingerprint: "fp"}); res != nil || err != nil {
		t.Fatalf("miss: res=%+v err=%v", res, err)
	}

	res, err := s.Replay(ctx, IdempotencyRef{Key: "k", Fingerprint: "fp"})
	if err != nil || res == nil || !res.Replayed || res.Response.Message != "Registration is successful" {
		t.Fatalf("hit: res=%+v err=%v", res, err)
	}

	if _, err := s.Replay(ctx, IdempotencyRef{Key: "k", Fingerprint: "other"}); !errors.Is(err, apperror.New(apperror.IdempotencyKeyReused)) {
		t.Fatalf("mismatch: expected IDEMPOTENCY_KEY_REUSED, got %v", err)
	}
}

func TestRegister_CorruptRecord(t *testing.T) {
	r := &fakeRegRepo{records: map[string]*domain.Idempotency{
		ScopeRegistration + "/bad": {Scope: ScopeRegistration, Key: "bad", Status: 200, Data: "{"},
	}}
	s := NewRegistrationService(nil, r)
	if _, err := s.Register(context.Background(), validation.Input{}, IdempotencyRef{Key: "bad"}); err == nil {
		t.Fatalf("expected decode error")
	}
}

// ----- Schema -----

func TestRegistrationRules_Order(t *testing.T) {
	got := validation.Validate(validation.Input{"email": "raja", "password": "qwer"}, RegistrationRules)
	want := []string{
		"first_name is required field",
		"last_name is required field",
		"email must be a valid email",
		"password has to more than 8 characters",
		"re_password is required field",
		"terms_condition is required field",
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("got %q\nwant %q", got, want)
	}
}

// ----- Against SQLite -----

type sqliteRepo struct{}

func (sqliteRepo) EmailReserved(ctx context.Context, db *gorm.DB, email string) (bool, error) {
	return repo.EmailReserved(ctx, db, email)
}
func (sqliteRepo) PasswordWeak(ctx context.Context, db *gorm.DB, password string) (bool, error) {
	return repo.PasswordWeak(ctx, db, password)
}
func (sqliteRepo) GetIdempotency(ctx context.Context, db *gorm.DB, scope, key string, now time.Time) (*domain.Idempotency, error) {
	return repo.GetIdempotency(ctx, db, scope, key, now)
}
func (sqliteRepo) CreateIdempotency(ctx context.Context, db *gorm.DB, scope, key, fingerprint string, status int, data string, ttl time.Duration) (*domain.Idempotency, error) {
	return repo.CreateIdempotency(ctx, db, scope, key, fingerprint, status, data, ttl)
}

func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := repo.SeedBlocklist(context.Background(), db, []string{"dummy@gmail.com"}, []string{"qwerty"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return db
}

func TestRegistrationService_SQLite(t *testing.T) {
	db := newServiceDB(t)
	s := NewRegistrationService(db, sqliteRepo{})
	ctx := context.Background()

	if err := s.CheckBusinessRules(ctx, "ada@example.com", "s3cret-pass"); err != nil {
		t.Fatalf("expected pass, got %v", err)
	}

	err := s.CheckBusinessRules(ctx, "Dummy@Gmail.com", "MyQwerty!")
	ae, ok := apperror.As(err)
	if !ok || ae.Code != "EMAIL_ALREADY_TAKEN" || len(ae.Errors) != 2 {
		t.Fatalf("unexpected aggregate error: %v", err)
	}

	ref := IdempotencyRef{Key: "idem-1", Fingerprint: "fp-1"}
	first, err := s.Register(ctx, validation.Input{}, ref)
	if err != nil || first.Replayed {
		t.Fatalf("first: %+v %v", first, err)
	}
	second, err := s.Register(ctx, validation.Input{}, ref)
	if err != nil || !second.Replayed || second.Response.Message != "Registration is successful" {
		t.Fatalf("second: %+v %v", second, err)
	}
	if _, err := s.Register(ctx, validation.Input{}, IdempotencyRef{Key: "idem-1", Fingerprint: "fp-2"}); !errors.Is(err, apperror.New(apperror.IdempotencyKeyReused)) {
		t.Fatalf("reused key: %v", err)
	}
}
