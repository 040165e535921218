package services

import (
	"errors"
	"sort"
	"strings"

	"github.com/charlesng35/accessd/internal/store"
	apperrors "github.com/charlesng35/accessd/pkg/errors"
	appValidator "github.com/charlesng35/accessd/pkg/validator"
)

// validate runs struct rules and converts failures into a VALIDATION_ERROR carrying
// one message per field.
func validate(input any) error {
	err := appValidator.ValidateStruct(input)
	if err == nil {
		return nil
	}

	var ve appValidator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return apperrors.NewValidation("", nil)
	}

	fields := ve.Messages()
	keys := make([]string, 0, len(fields))
	for field := range fields {
		keys = append(keys, field)
	}
	sort.Strings(keys)

	messages := make([]string, 0, len(keys))
	for _, key := range keys {
		messages = append(messages, fields[key])
	}
	return apperrors.NewValidation(strings.Join(messages, "; "), fields)
}

// storageError maps store failures that are not domain outcomes.
func storageError(err error) error {
	if errors.Is(err, store.ErrUnavailable) {
		return apperrors.ErrStorageUnavailable.WithInternal(err)
	}
	return apperrors.ErrInternalServer.WithInternal(err)
}
