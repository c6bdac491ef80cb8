// Package services defines the business logic behind user registration.
// This file centralizes how business-rule failures are turned into
// application errors so every rule stage reports them the same way.
//
// Translation into HTTP status codes and response bodies is performed by the
// error handler in the HTTP layer, never here.
package services

import (
	"github.com/tbourn/go-registration-backend/internal/apperror"
)

// ruleFailures collects failed business rules in evaluation order.
type ruleFailures []apperror.Descriptor

func (f *ruleFailures) add(d apperror.Descriptor) { *f = append(*f, d) }

// err folds the collected failures into one application error. The first
// failure decides code, message and status; with more than one failure the
// error lists every failed code.
func (f ruleFailures) err() error {
	switch len(f) {
	case 0:
		return nil
	case 1:
		return apperror.New(f[0])
	}

	codes := make([]string, len(f))
	for i, d := range f {
		codes[i] = d.Code
	}
	return apperror.New(f[0], apperror.WithErrors(codes...))
}
