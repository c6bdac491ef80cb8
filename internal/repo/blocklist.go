package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-registration-backend/internal/domain"
)

// Fold returns the caseless form used for every stored and compared
// blocklist value.
func Fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// SeedBlocklist inserts reserved emails and weak password terms. Values are
// folded before storage; blanks are skipped and existing values are left
// untouched, so seeding is idempotent.
func SeedBlocklist(ctx context.Context, db *gorm.DB, emails, passwords []string) error {
	now := time.Now().UTC()

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, v := range uniqueFolded(emails) {
			row := &domain.ReservedEmail{ID: uuid.NewString(), Value: v, CreatedAt: now}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error; err != nil {
				return err
			}
		}
		for _, v := range uniqueFolded(passwords) {
			row := &domain.WeakPassword{ID: uuid.NewString(), Value: v, CreatedAt: now}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// EmailReserved reports whether email contains any reserved value, caselessly.
func EmailReserved(ctx context.Context, db *gorm.DB, email string) (bool, error) {
	return containsBlocked(ctx, db, &domain.ReservedEmail{}, email)
}

// PasswordWeak reports whether password contains any weak term, caselessly.
func PasswordWeak(ctx context.Context, db *gorm.DB, password string) (bool, error) {
	return containsBlocked(ctx, db, &domain.WeakPassword{}, password)
}

// containsBlocked matches the folded input against every stored value with
// SQLite's instr(), i.e. "input contains value".
func containsBlocked(ctx context.Context, db *gorm.DB, model any, input string) (bool, error) {
	folded := Fold(input)
	if folded == "" {
		return false, nil
	}

	var n int64
	err := db.WithContext(ctx).
		Model(model).
		Where("instr(?, value) > 0", folded).
		Limit(1).
		Count(&n).Error
	return n > 0, err
}

func uniqueFolded(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		f := Fold(s)
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
