package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/deusexmachina/authcore/account"
	"github.com/deusexmachina/authcore/permission"
)

var fixedNow = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

var userCols = []string{
	"id", "email", "password_hash", "display_name", "provider", "email_verified",
	"created_at", "updated_at", "linked_providers", "mfa_enabled", "mfa_secret",
	"last_password_change", "failed_login_attempts", "lockout_until",
}

func userRow(failed int) *sqlmock.Rows {
	return sqlmock.NewRows(userCols).AddRow(
		"u1", "alice@example.com", "$argon2id$hash", "Alice", "EMAIL", true,
		fixedNow, fixedNow, []byte(`["google"]`), false, "",
		nil, failed, nil,
	)
}

func TestFindByEmailNormalizes(t *testing.T) {
	db, mock := newMock(t)
	store := NewUserStore(db, clock)

	mock.ExpectQuery("from users where email = \\$1").
		WithArgs("alice@example.com").
		WillReturnRows(userRow(0))

	u, err := store.FindByEmail(context.Background(), " Alice@Example.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if u.ID != "u1" || u.Provider != account.ProviderEmail || !u.HasLinkedProvider("google") {
		t.Fatalf("unexpected user: %+v", u)
	}
	if !u.Security.LockoutUntil.IsZero() {
		t.Fatal("null lockout must decode as zero time")
	}
}

func TestFindByIDNotFound(t *testing.T) {
	db, mock := newMock(t)
	store := NewUserStore(db, clock)

	mock.ExpectQuery("from users where id = \\$1").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	if _, err := store.FindByID(context.Background(), "missing"); !errors.Is(err, account.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveMapsUniqueViolation(t *testing.T) {
	db, mock := newMock(t)
	store := NewUserStore(db, clock)

	mock.ExpectQuery("insert into users").WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	_, err := store.Save(context.Background(), account.User{Email: "alice@example.com", Provider: account.ProviderEmail})
	if !errors.Is(err, account.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestSaveAssignsIdentity(t *testing.T) {
	db, mock := newMock(t)
	store := NewUserStore(db, clock)

	mock.ExpectQuery("insert into users").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(fixedNow))

	u, err := store.Save(context.Background(), account.User{Email: "Bob@Example.com", Provider: account.ProviderGoogle})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if u.ID == "" || u.Email != "bob@example.com" || !u.CreatedAt.Equal(fixedNow) || !u.UpdatedAt.Equal(fixedNow) {
		t.Fatalf("unexpected saved user: %+v", u)
	}
}

func TestMutateSecurityLocksRow(t *testing.T) {
	db, mock := newMock(t)
	store := NewUserStore(db, clock)

	mock.ExpectBegin()
	mock.ExpectQuery("from users where id = \\$1 for update").WithArgs("u1").WillReturnRows(userRow(4))
	mock.ExpectExec("update users set").
		WithArgs("u1", "Alice", true, "$argon2id$hash", sqlmock.AnyArg(), false, "", sqlmock.AnyArg(), 5, sqlmock.AnyArg(), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	u, err := store.MutateSecurity(context.Background(), "u1", func(s account.SecuritySettings) account.SecuritySettings {
		s.FailedLoginAttempts++
		s.LockoutUntil = fixedNow.Add(15 * time.Minute)
		return s
	})
	if err != nil {
		t.Fatalf("MutateSecurity: %v", err)
	}
	if u.Security.FailedLoginAttempts != 5 || !u.Security.IsLocked(fixedNow) {
		t.Fatalf("unexpected security settings: %+v", u.Security)
	}
}

func TestMutateSecurityRollsBackOnMissingUser(t *testing.T) {
	db, mock := newMock(t)
	store := NewUserStore(db, clock)

	mock.ExpectBegin()
	mock.ExpectQuery("for update").WithArgs("ghost").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := store.MutateSecurity(context.Background(), "ghost", func(s account.SecuritySettings) account.SecuritySettings { return s })
	if !errors.Is(err, account.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

var grantCols = []string{"id", "resource_id", "resource_type", "granted_to", "granted_by", "level", "granted_at", "expires_at", "custom"}

func TestCreateGrantDuplicate(t *testing.T) {
	db, mock := newMock(t)
	store := NewPermissionStore(db, clock)

	mock.ExpectQuery("insert into permissions").WillReturnError(sql.ErrNoRows)

	_, err := store.Create(context.Background(), permission.Permission{
		ResourceID: "r1", ResourceType: permission.ResourceWorld, GrantedTo: "u1", GrantedBy: "u1", Level: permission.LevelOwner,
	})
	if !errors.Is(err, permission.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestFindByResourceFiltersExpired(t *testing.T) {
	db, mock := newMock(t)
	store := NewPermissionStore(db, clock)

	mock.ExpectQuery(regexp.QuoteMeta("where resource_id = $1 and (expires_at is null or expires_at > $2)")).
		WithArgs("r1", fixedNow).
		WillReturnRows(sqlmock.NewRows(grantCols).
			AddRow("p1", "r1", "WORLD", "u1", "u1", "OWNER", fixedNow, nil, []byte(`{}`)).
			AddRow("p2", "r1", "WORLD", "u2", "u1", "VIEWER", fixedNow, fixedNow.Add(time.Hour), []byte(`{"write":true}`)))

	grants, err := store.FindByResourceID(context.Background(), "r1")
	if err != nil {
		t.Fatalf("FindByResourceID: %v", err)
	}
	if len(grants) != 2 || grants[0].Custom != nil || !grants[1].HasCustom(permission.ActionWrite) {
		t.Fatalf("unexpected grants: %+v", grants)
	}
}

func TestFindHighestLevelMissing(t *testing.T) {
	db, mock := newMock(t)
	store := NewPermissionStore(db, clock)

	mock.ExpectQuery("select level from permissions").WillReturnError(sql.ErrNoRows)

	if _, ok, err := store.FindHighestLevel(context.Background(), "u1", "r1"); err != nil || ok {
		t.Fatalf("expected no level, got %v, %v", ok, err)
	}
}

func TestInTxUsesRowLocks(t *testing.T) {
	db, mock := newMock(t)
	store := NewPermissionStore(db, clock)

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs("r1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("for update").
		WithArgs("u1", "r1", fixedNow).
		WillReturnRows(sqlmock.NewRows(grantCols).AddRow("p1", "r1", "WORLD", "u1", "u9", "VIEWER", fixedNow, nil, []byte(`{}`)))
	mock.ExpectQuery("update permissions set").
		WillReturnRows(sqlmock.NewRows(grantCols).AddRow("p1", "r1", "WORLD", "u1", "u9", "EDITOR", fixedNow, nil, []byte(`{}`)))
	mock.ExpectCommit()

	err := store.InTx(context.Background(), func(ctx context.Context, tx permission.Repository) error {
		current, err := tx.FindByUserAndResource(ctx, "u1", "r1")
		if err != nil || current == nil {
			return errors.New("grant missing")
		}
		_, err = tx.Update(ctx, current.WithLevel(permission.LevelEditor))
		return err
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
}

func TestInTxLocksResourceBeforeCountingOwners(t *testing.T) {
	db, mock := newMock(t)
	store := NewPermissionStore(db, clock)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("pg_advisory_xact_lock(hashtext('permissions'), hashtext($1))")).
		WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("where resource_id = \\$1").
		WithArgs("r1", fixedNow).
		WillReturnRows(sqlmock.NewRows(grantCols).
			AddRow("p1", "r1", "WORLD", "u1", "u1", "OWNER", fixedNow, nil, []byte(`{}`)).
			AddRow("p2", "r1", "WORLD", "u2", "u1", "OWNER", fixedNow, nil, []byte(`{}`)))
	mock.ExpectQuery("for update").
		WithArgs("u2", "r1", fixedNow).
		WillReturnRows(sqlmock.NewRows(grantCols).AddRow("p2", "r1", "WORLD", "u2", "u1", "OWNER", fixedNow, nil, []byte(`{}`)))
	mock.ExpectExec("delete from permissions where granted_to").WithArgs("u2", "r1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.InTx(context.Background(), func(ctx context.Context, tx permission.Repository) error {
		grants, err := tx.FindByResourceID(ctx, "r1")
		if err != nil || len(grants) != 2 {
			return errors.New("owners missing")
		}
		if _, err := tx.FindByUserAndResource(ctx, "u2", "r1"); err != nil {
			return err
		}
		_, err = tx.DeleteByUserAndResource(ctx, "u2", "r1")
		return err
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
}

func TestInTxRereadsGrantAfterLock(t *testing.T) {
	db, mock := newMock(t)
	store := NewPermissionStore(db, clock)

	mock.ExpectBegin()
	mock.ExpectQuery("where id = \\$1").WithArgs("p1").
		WillReturnRows(sqlmock.NewRows(grantCols).AddRow("p1", "r1", "WORLD", "u1", "u9", "OWNER", fixedNow, nil, []byte(`{}`)))
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs("r1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("where id = \\$1").WithArgs("p1").
		WillReturnRows(sqlmock.NewRows(grantCols))
	mock.ExpectRollback()

	err := store.InTx(context.Background(), func(ctx context.Context, tx permission.Repository) error {
		_, err := tx.FindByID(ctx, "p1")
		return err
	})
	if !errors.Is(err, permission.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after concurrent delete, got %v", err)
	}
}

func TestAutocommitSkipsResourceLock(t *testing.T) {
	db, mock := newMock(t)
	store := NewPermissionStore(db, clock)

	mock.ExpectQuery("where resource_id = \\$1").WithArgs("r1", fixedNow).WillReturnRows(sqlmock.NewRows(grantCols))

	if _, err := store.FindByResourceID(context.Background(), "r1"); err != nil {
		t.Fatalf("FindByResourceID: %v", err)
	}
}

func TestInTxRollsBackOnError(t *testing.T) {
	db, mock := newMock(t)
	store := NewPermissionStore(db, clock)

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectExec("delete from permissions where id").WithArgs("p1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err := store.InTx(context.Background(), func(ctx context.Context, tx permission.Repository) error {
		if _, err := tx.DeleteByID(ctx, "p1"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestDeleteExpiredCounts(t *testing.T) {
	db, mock := newMock(t)
	store := NewPermissionStore(db, clock)

	mock.ExpectExec("delete from permissions where expires_at is not null").
		WithArgs(fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.DeleteExpired(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("DeleteExpired: %d, %v", n, err)
	}
}
